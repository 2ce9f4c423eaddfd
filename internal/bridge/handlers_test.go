package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/discovery"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/validation"
)

func TestHandleDevices(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	polled := 0
	h := NewHandlers(f.svc, func(context.Context) (discovery.Changes, error) {
		polled++
		return discovery.Changes{}, nil
	}, 0)

	reply := h.handleDevices(context.Background(), nil)
	require.True(t, reply.OK)
	require.Len(t, reply.Devices, 1)
	assert.Equal(t, imei0, reply.Devices[0].IMEI)
	assert.Zero(t, polled)

	reply = h.handleDevices(context.Background(), []byte(`{"refresh":true}`))
	require.True(t, reply.OK)
	assert.Equal(t, 1, polled)
}

func TestHandleDevicesPollFailure(t *testing.T) {
	f := newFixture()
	h := NewHandlers(f.svc, func(context.Context) (discovery.Changes, error) {
		return discovery.Changes{}, &ami.AuthError{Message: "Authentication failed"}
	}, 0)

	reply := h.handleDevices(context.Background(), []byte(`{"refresh":true}`))
	assert.False(t, reply.OK)
	assert.Equal(t, "auth", reply.Kind)
}

func TestHandleState(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on("dongle show device state dongle0", stateRaw)
	h := NewHandlers(f.svc, nil, 0)

	reply := h.handleState(context.Background(), []byte(`{"imei":"`+imei0+`"}`))
	require.True(t, reply.OK, reply.Error)
	require.NotNil(t, reply.State)
	assert.Equal(t, "dongle0", reply.State.DongleID)

	reply = h.handleState(context.Background(), nil)
	assert.False(t, reply.OK)
	assert.Equal(t, "invalid", reply.Kind)

	reply = h.handleState(context.Background(), []byte(`{"imei":"000"}`))
	assert.Equal(t, "not_found", reply.Kind)

	reply = h.handleState(context.Background(), []byte(`{not json`))
	assert.Equal(t, "invalid", reply.Kind)
}

func TestHandleSMS(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on(`dongle sms dongle0 100 "balance"`, "Response: Success\r\nMessage: Command output follows\r\nOutput: [dongle0] SMS queued for send with id 0x2\r\n\r\n")
	h := NewHandlers(f.svc, nil, 0)

	reply := h.handleSMS(context.Background(), []byte(`{"imei":"`+imei0+`","number":"100","text":"balance"}`))
	require.True(t, reply.OK, reply.Error)
	assert.Equal(t, []string{"[dongle0] SMS queued for send with id 0x2"}, reply.Output)

	reply = h.handleSMS(context.Background(), []byte(`{"imei":"`+imei0+`","number":"100","text":"a\nb"}`))
	assert.Equal(t, "invalid", reply.Kind)
	assert.Len(t, f.exec.calls(), 1)
}

func TestHandleUSSDRejected(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on("dongle ussd dongle0 *100#", errorRaw)
	h := NewHandlers(f.svc, nil, 0)

	reply := h.handleUSSD(context.Background(), []byte(`{"imei":"`+imei0+`","code":"*100#"}`))
	assert.False(t, reply.OK)
	assert.Equal(t, "command", reply.Kind)
	assert.Equal(t, errorRaw, reply.Raw)
}

func TestHandleExec(t *testing.T) {
	f := newFixture()
	f.exec.on("core show version", "Response: Success\r\nMessage: Command output follows\r\nOutput: Asterisk 18.20.0 built by root\r\n\r\n")
	h := NewHandlers(f.svc, nil, 0)

	reply := h.handleExec(context.Background(), []byte(`{"command":"core show version"}`))
	require.True(t, reply.OK)
	assert.Equal(t, []string{"Asterisk 18.20.0 built by root"}, reply.Output)

	// rejected commands are returned as output, not as failures
	reply = h.handleExec(context.Background(), []byte(`{"command":"no such"}`))
	assert.True(t, reply.OK)
	assert.Contains(t, reply.Raw, "Response: Error")
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", validation.ErrInvalid), "invalid"},
		{fmt.Errorf("x: %w", dongle.ErrInvalidArgument), "invalid"},
		{fmt.Errorf("x: %w", ErrUnknownDevice), "not_found"},
		{fmt.Errorf("x: %w", discovery.ErrCommandRejected), "command"},
		{&ami.CommandTimeoutError{Command: "x"}, "timeout"},
		{&ami.ConnectionLostError{Op: "reconnect", Err: errors.New("refused")}, "connection_lost"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}
}
