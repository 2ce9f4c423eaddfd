package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smsForm struct {
	Number string `json:"number" validate:"required,phone"`
	Text   string `json:"text" validate:"required,oneline,max=10"`
	Email  string `json:"email" validate:"email"`
	Code   string `validate:"ussd"`
	Count  int    `json:"count" validate:"required"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	ok := smsForm{Number: "+79001234567", Text: "hello", Count: 1}
	require.NoError(t, v.Validate(ok))
	require.NoError(t, v.Validate(&ok))

	tests := []struct {
		name   string
		mutate func(*smsForm)
		want   string
	}{
		{"missing number", func(f *smsForm) { f.Number = "" }, "number: field is required"},
		{"bad number", func(f *smsForm) { f.Number = "12 34" }, "number: invalid phone number"},
		{"line break", func(f *smsForm) { f.Text = "a\nb" }, "text: must not contain line breaks"},
		{"too long", func(f *smsForm) { f.Text = "приветствую!" }, "text: maximum length is 10"},
		{"bad email", func(f *smsForm) { f.Email = "user@" }, "email: invalid email format"},
		{"bad ussd", func(f *smsForm) { f.Code = "*100#x" }, "Code: invalid USSD code"},
		{"zero int", func(f *smsForm) { f.Count = 0 }, "count: field is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ok
			tt.mutate(&f)
			err := v.Validate(f)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateRunesNotBytes(t *testing.T) {
	f := smsForm{Number: "100", Text: "тест", Count: 1}
	assert.NoError(t, NewValidator().Validate(f))
}

func TestValidateIMEI(t *testing.T) {
	type form struct {
		IMEI string `json:"imei" validate:"required,imei"`
	}
	v := NewValidator()
	assert.NoError(t, v.Validate(form{IMEI: "351234567890123"}))
	assert.ErrorContains(t, v.Validate(form{IMEI: "N/A"}), "invalid IMEI")
}

func TestValidateNonStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate("text"))
}
