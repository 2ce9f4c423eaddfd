package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("validation failed")

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9*#]+$`)
	ussdPattern  = regexp.MustCompile(`^[0-9*#+]+$`)
	imeiPattern  = regexp.MustCompile(`^[0-9]{14,16}$`)
)

// Validator validates structs by their `validate` tags. Supported rules:
// required, email, min=N, max=N (string length in runes), oneline, phone,
// ussd, imei.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct, got %s", val.Kind())
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrInvalid, fieldName(fieldType), err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	// Optional fields are only checked when set
	if field.IsZero() {
		for _, rule := range rules {
			if rule == "required" {
				return errors.New("field is required")
			}
		}
		return nil
	}

	for _, rule := range rules {
		name, arg, _ := strings.Cut(rule, "=")

		if field.Kind() != reflect.String {
			continue
		}
		s := field.String()

		switch name {
		case "email":
			if at := strings.Index(s, "@"); at <= 0 || at == len(s)-1 {
				return errors.New("invalid email format")
			}

		case "min", "max":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad rule %q", rule)
			}
			l := utf8.RuneCountInString(s)
			if name == "min" && l < n {
				return fmt.Errorf("minimum length is %d", n)
			}
			if name == "max" && l > n {
				return fmt.Errorf("maximum length is %d", n)
			}

		case "oneline":
			if strings.ContainsAny(s, "\r\n") {
				return errors.New("must not contain line breaks")
			}

		case "phone":
			if !phonePattern.MatchString(s) {
				return errors.New("invalid phone number")
			}

		case "ussd":
			if !ussdPattern.MatchString(s) {
				return errors.New("invalid USSD code")
			}

		case "imei":
			if !imeiPattern.MatchString(s) {
				return errors.New("invalid IMEI")
			}
		}
	}

	return nil
}

// fieldName prefers the JSON name of the field
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}
