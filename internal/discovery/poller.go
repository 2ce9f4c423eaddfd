package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/telemetry"
)

// Default poll intervals
const (
	DefaultInterval   = time.Hour
	DefaultBackoffMax = 5 * time.Minute
)

// ErrCommandRejected is returned when the manager answers with Response: Error.
var ErrCommandRejected = errors.New("command rejected by manager")

// Executor runs a console command. *ami.Session implements it.
type Executor interface {
	Execute(ctx context.Context, command string) (ami.Result, error)
}

// Listener receives the outcome of each successful poll.
type Listener interface {
	DevicesChanged(ctx context.Context, current Snapshot, changes Changes)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, current Snapshot, changes Changes)

// DevicesChanged calls f
func (f ListenerFunc) DevicesChanged(ctx context.Context, current Snapshot, changes Changes) {
	f(ctx, current, changes)
}

// Poller periodically lists devices and reconciles them against the
// previous snapshot.
type Poller struct {
	exec       Executor
	cell       *SnapshotCell
	listener   Listener
	interval   time.Duration
	backoffMax time.Duration
	log        zerolog.Logger
	trigger    chan struct{}

	// mu serializes Poll so diff and store stay paired
	mu sync.Mutex
}

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithInterval sets the time between successful polls
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBackoffMax caps the retry delay after failed polls
func WithBackoffMax(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.backoffMax = d
		}
	}
}

// WithPollerLogger sets the poller logger
func WithPollerLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) {
		p.log = l
	}
}

// NewPoller creates a poller that writes snapshots to cell.
func NewPoller(exec Executor, cell *SnapshotCell, listener Listener, opts ...PollerOption) *Poller {
	p := &Poller{
		exec:       exec,
		cell:       cell,
		listener:   listener,
		interval:   DefaultInterval,
		backoffMax: DefaultBackoffMax,
		log:        log.Logger,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("component", "discovery").Logger()
	return p
}

// Poll runs one discovery cycle: list, parse, diff, store the new snapshot
// and notify the listener.
func (p *Poller) Poll(ctx context.Context) (Changes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.exec.Execute(ctx, dongle.CmdShowDevices)
	if err != nil {
		return Changes{}, fmt.Errorf("list devices: %w", err)
	}
	if dongle.IsErrorResponse(res.Raw) {
		return Changes{}, fmt.Errorf("list devices: %w: %s", ErrCommandRejected, res.Response().Message())
	}

	devices, warnings := dongle.ParseDeviceList(res.Raw)
	for _, w := range warnings {
		p.log.Warn().Str("warning", w.String()).Msg("Skipped device list line")
	}
	telemetry.ParseWarnings.WithLabelValues("devices").Add(float64(len(warnings)))

	changes := Diff(p.cell.Load(), devices)
	current := NewSnapshot(devices)
	p.cell.Store(current)

	telemetry.DevicesPresent.Set(float64(len(current)))
	telemetry.DeviceChanges.WithLabelValues("added").Add(float64(len(changes.Added)))
	telemetry.DeviceChanges.WithLabelValues("removed").Add(float64(len(changes.Removed)))

	if !changes.Empty() {
		p.log.Info().
			Int("added", len(changes.Added)).
			Int("removed", len(changes.Removed)).
			Int("total", len(current)).
			Msg("Device set changed")
	}
	if p.listener != nil {
		p.listener.DevicesChanged(ctx, current, changes)
	}
	return changes, nil
}

// Trigger requests an immediate poll from Run. It does not block.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Failed polls are retried with
// exponential backoff; successful polls wait for the interval or a Trigger.
func (p *Poller) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = p.backoffMax

	for {
		wait := p.interval
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = b.NextBackOff()
			p.log.Error().Err(err).Dur("retry_in", wait).Msg("Device discovery failed")
		} else {
			b.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}
