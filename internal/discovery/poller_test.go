package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/dongle"
)

type scriptedExecutor struct {
	mu        sync.Mutex
	responses []ami.Result
	errs      []error
	commands  []string
}

func (e *scriptedExecutor) Execute(_ context.Context, command string) (ami.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if len(e.responses) == 0 {
		return ami.Result{}, errors.New("no more responses")
	}
	res, err := e.responses[0], e.errs[0]
	e.responses, e.errs = e.responses[1:], e.errs[1:]
	return res, err
}

func (e *scriptedExecutor) push(raw string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, ami.Result{Raw: raw, Complete: raw != ""})
	e.errs = append(e.errs, err)
}

func devicesRaw(imeis ...string) string {
	var devices []dongle.Device
	for i, imei := range imeis {
		devices = append(devices, dongle.Device{
			DongleID: "dongle" + string(rune('0'+i)),
			Group:    "0", State: "Free", RSSIRaw: "17", Mode: "5", Submode: "4",
			Provider: "MTS", Model: "E1550", Firmware: "11.608", IMEI: imei,
			Number: "Unknown",
		})
	}
	return dongle.FormatDeviceList(devices)
}

func TestPollerPoll(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push(devicesRaw("111", "222"), nil)
	exec.push(devicesRaw("222", "333"), nil)

	var cell SnapshotCell
	var got []Changes
	p := NewPoller(exec, &cell, ListenerFunc(func(_ context.Context, _ Snapshot, c Changes) {
		got = append(got, c)
	}), WithPollerLogger(zerolog.Nop()))

	changes, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, changes.Added, 2)
	assert.Empty(t, changes.Removed)

	changes, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, changes.Added, 1)
	assert.Equal(t, "333", changes.Added[0].IMEI)
	assert.Equal(t, []string{"111"}, changes.Removed)

	assert.Equal(t, []string{"222", "333"}, cell.Load().IMEIs())
	assert.Len(t, got, 2)
	assert.Equal(t, []string{dongle.CmdShowDevices, dongle.CmdShowDevices}, exec.commands)
}

func TestPollerPollKeepsSnapshotOnFailure(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push(devicesRaw("111"), nil)
	exec.push("", &ami.ConnectionLostError{Op: "reconnect", Err: errors.New("refused")})
	exec.push("Response: Error\r\nMessage: No such command 'dongle show devices'\r\n\r\n", nil)

	var cell SnapshotCell
	p := NewPoller(exec, &cell, nil, WithPollerLogger(zerolog.Nop()))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	var lostErr *ami.ConnectionLostError
	assert.ErrorAs(t, err, &lostErr)

	_, err = p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrCommandRejected)

	assert.Equal(t, []string{"111"}, cell.Load().IMEIs())
}

func TestPollerRunRetriesAndStops(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push("", errors.New("down"))
	exec.push(devicesRaw("111"), nil)

	var cell SnapshotCell
	polled := make(chan Changes, 1)
	p := NewPoller(exec, &cell, ListenerFunc(func(_ context.Context, _ Snapshot, c Changes) {
		polled <- c
	}), WithPollerLogger(zerolog.Nop()), WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case c := <-polled:
		require.Len(t, c.Added, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not retry after failure")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
