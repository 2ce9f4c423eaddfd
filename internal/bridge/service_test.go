package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/discovery"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/models"
)

const (
	imei0 = "351234567890120"
	imei1 = "351234567890121"
)

const stateRaw = "Response: Success\r\n" +
	"Message: Command output follows\r\n" +
	"Output:   Device                  : dongle0\r\n" +
	"Output:   State                   : Free\r\n" +
	"Output:   RSSI                    : 17, -79 dBm\r\n" +
	"Output:   Provider Name           : MTS\r\n" +
	"\r\n"

const errorRaw = "Response: Error\r\nMessage: Command 'dongle sms' failed\r\n\r\n"

type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]ami.Result
	errs      map[string]error
	commands  []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{responses: map[string]ami.Result{}, errs: map[string]error{}}
}

func (e *fakeExecutor) Execute(_ context.Context, command string) (ami.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if err, ok := e.errs[command]; ok {
		return ami.Result{}, err
	}
	if res, ok := e.responses[command]; ok {
		return res, nil
	}
	return ami.Result{Raw: "Response: Error\r\nMessage: No such command\r\n\r\n", Complete: true}, nil
}

func (e *fakeExecutor) on(command, raw string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[command] = ami.Result{Raw: raw, Complete: true}
}

func (e *fakeExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

type memStore struct {
	mu      sync.Mutex
	dongles map[string]*models.Dongle
	states  map[string]*models.DongleState
	absent  []string
}

func newMemStore() *memStore {
	return &memStore{dongles: map[string]*models.Dongle{}, states: map[string]*models.DongleState{}}
}

func (m *memStore) UpsertDongle(_ context.Context, d *models.Dongle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dongles[d.IMEI] = d
	return nil
}

func (m *memStore) MarkDongleAbsent(_ context.Context, imei string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absent = append(m.absent, imei)
	if d, ok := m.dongles[imei]; ok {
		d.IsPresent = false
	}
	return nil
}

func (m *memStore) SaveDongleState(_ context.Context, st *models.DongleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.IMEI] = st
	return nil
}

type published struct {
	subject string
	event   models.DongleEvent
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	var ev models.DongleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, event: ev})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		out = append(out, m.subject)
	}
	return out
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

func device(id, imei string) dongle.Device {
	return dongle.Device{DongleID: id, Group: "0", State: "Free", RSSIRaw: "17", IMEI: imei, Number: "Unknown"}
}

type fixture struct {
	exec  *fakeExecutor
	store *memStore
	pub   *fakePublisher
	cell  *discovery.SnapshotCell
	svc   *Service
}

func newFixture(devices ...dongle.Device) *fixture {
	f := &fixture{
		exec:  newFakeExecutor(),
		store: newMemStore(),
		pub:   &fakePublisher{},
		cell:  &discovery.SnapshotCell{},
	}
	f.cell.Store(discovery.NewSnapshot(devices))
	f.svc = NewService(f.exec, f.store, f.pub, f.cell, WithLogger(zerolog.Nop()))
	return f
}

func TestDevicesChanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	current := discovery.NewSnapshot([]dongle.Device{device("dongle0", imei0), device("dongle1", imei1)})
	f.svc.DevicesChanged(ctx, current, discovery.Diff(nil, current.Devices()))

	assert.Len(t, f.store.dongles, 2)
	assert.True(t, f.store.dongles[imei0].IsPresent)
	assert.Equal(t, []string{
		"dongle.device." + imei0 + ".added",
		"dongle.device." + imei1 + ".added",
	}, f.pub.subjects())

	added := f.pub.msgs[0].event
	assert.Equal(t, models.EventTypeDongleAdded, added.Type)
	require.NotNil(t, added.Device)
	assert.Equal(t, "dongle0", added.Device.DongleID)

	next := discovery.NewSnapshot([]dongle.Device{device("dongle1", imei1)})
	f.svc.DevicesChanged(ctx, next, discovery.Diff(current, next.Devices()))

	assert.Equal(t, []string{imei0}, f.store.absent)
	assert.False(t, f.store.dongles[imei0].IsPresent)
	last := f.pub.last()
	assert.Equal(t, "dongle.device."+imei0+".removed", last.subject)
	assert.Equal(t, models.EventTypeDongleRemoved, last.event.Type)
}

func TestRefreshStateCachesAndPublishes(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on("dongle show device state dongle0", stateRaw)
	ctx := context.Background()

	state, err := f.svc.State(ctx, imei0, false)
	require.NoError(t, err)
	require.NotNil(t, state.SignalDBm)
	assert.Equal(t, -79, *state.SignalDBm)
	assert.Equal(t, dongle.QualityGood, state.SignalQuality)
	assert.Equal(t, "MTS", state.Values["provider_name"])

	assert.Same(t, state, f.store.states[imei0])

	last := f.pub.last()
	assert.Equal(t, "dongle.device."+imei0+".state", last.subject)
	assert.Equal(t, "MTS", last.event.Attrs["provider"])
	require.NotNil(t, last.event.Signal)
	assert.Equal(t, -79, last.event.Signal.Value)

	// served from cache
	again, err := f.svc.State(ctx, imei0, false)
	require.NoError(t, err)
	assert.Same(t, state, again)
	assert.Len(t, f.exec.calls(), 1)

	_, err = f.svc.State(ctx, imei0, true)
	require.NoError(t, err)
	assert.Len(t, f.exec.calls(), 2)
}

func TestRefreshStateUnknownDevice(t *testing.T) {
	f := newFixture()
	_, err := f.svc.RefreshState(context.Background(), imei0)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Empty(t, f.exec.calls())
}

func TestRefreshStateCommandError(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.errs["dongle show device state dongle0"] = &ami.ConnectionLostError{Op: "reconnect", Err: errors.New("refused")}

	_, err := f.svc.RefreshState(context.Background(), imei0)
	var lostErr *ami.ConnectionLostError
	assert.ErrorAs(t, err, &lostErr)
	assert.Empty(t, f.store.states)
	assert.Empty(t, f.pub.subjects())
}

func TestSendSMS(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on(`dongle sms dongle0 +79001234567 "hello there"`, "Response: Success\r\nMessage: Command output follows\r\nOutput: [dongle0] SMS queued for send with id 0x1\r\n\r\n")

	res, err := f.svc.SendSMS(context.Background(), imei0, "+79001234567", "hello there")
	require.NoError(t, err)
	assert.Contains(t, res.Raw, "SMS queued")

	last := f.pub.last()
	assert.Equal(t, "dongle.device."+imei0+".sms", last.subject)
	assert.Equal(t, models.EventTypeSMSSent, last.event.Type)
	assert.Equal(t, "+79001234567", last.event.Attrs["number"])
	assert.Equal(t, "11", last.event.Attrs["length"])
}

func TestSendSMSRejected(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on(`dongle sms dongle0 100 "hi"`, errorRaw)

	_, err := f.svc.SendSMS(context.Background(), imei0, "100", "hi")
	assert.ErrorIs(t, err, discovery.ErrCommandRejected)

	last := f.pub.last()
	assert.Equal(t, models.EventTypeSMSFailed, last.event.Type)
	assert.Contains(t, last.event.Message, "failed")
}

func TestSendSMSInvalidNumber(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	_, err := f.svc.SendSMS(context.Background(), imei0, "12 34", "hi")
	assert.ErrorIs(t, err, dongle.ErrInvalidArgument)
	assert.Empty(t, f.exec.calls())
}

func TestSendUSSD(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on("dongle ussd dongle0 *100#", "Response: Success\r\nMessage: Command output follows\r\nOutput: [dongle0] USSD queued for send\r\n\r\n")

	_, err := f.svc.SendUSSD(context.Background(), imei0, "*100#")
	require.NoError(t, err)
	last := f.pub.last()
	assert.Equal(t, "dongle.device."+imei0+".ussd", last.subject)
	assert.Equal(t, models.EventTypeUSSDSent, last.event.Type)
}

func TestSessionHooksPublishStatus(t *testing.T) {
	f := newFixture()
	hooks := f.svc.SessionHooks()

	hooks.OnStateChange(true)
	hooks.OnCommand("core show version", "ok", time.Millisecond)
	hooks.OnReconnect(nil)
	hooks.OnStateChange(false)

	require.Len(t, f.pub.msgs, 2)
	first := f.pub.msgs[0]
	assert.Equal(t, models.SubjectBridgeStatus, first.subject)
	assert.Equal(t, models.EventTypeAMIConnected, first.event.Type)
	require.NotNil(t, first.event.Connected)
	assert.True(t, *first.event.Connected)
	assert.Equal(t, models.EventTypeAMIDisconnected, f.pub.last().event.Type)
}

func TestRunStateMonitor(t *testing.T) {
	f := newFixture(device("dongle0", imei0))
	f.exec.on("dongle show device state dongle0", stateRaw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunStateMonitor(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.exec.calls()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state monitor did not stop")
	}
}
