package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/discovery"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/models"
	"github.com/dongle-server/dongle-server/internal/telemetry"
)

// DefaultStateInterval is the time between per-device state polls
const DefaultStateInterval = time.Minute

// ErrUnknownDevice is returned for an IMEI that is not in the current
// discovery snapshot.
var ErrUnknownDevice = errors.New("unknown device")

// Publisher sends a message on a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// DongleStore is the part of storage.Store the bridge writes to
type DongleStore interface {
	UpsertDongle(ctx context.Context, dongle *models.Dongle) error
	MarkDongleAbsent(ctx context.Context, imei string, at time.Time) error
	SaveDongleState(ctx context.Context, state *models.DongleState) error
}

// Service owns the AMI session of the bridge daemon. It keeps the store in
// line with discovery, polls device state and runs SMS, USSD and raw
// commands for NATS clients.
type Service struct {
	exec   discovery.Executor
	store  DongleStore
	pub    Publisher
	cell   *discovery.SnapshotCell
	states *cache.Cache
	log    zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithStateTTL sets how long a state dump is served from cache
func WithStateTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.states = cache.New(ttl, 2*ttl)
		}
	}
}

// NewService creates a bridge service. cell is shared with the discovery
// poller that feeds DevicesChanged.
func NewService(exec discovery.Executor, store DongleStore, pub Publisher, cell *discovery.SnapshotCell, opts ...Option) *Service {
	s := &Service{
		exec:   exec,
		store:  store,
		pub:    pub,
		cell:   cell,
		states: cache.New(2*DefaultStateInterval, 4*DefaultStateInterval),
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "bridge").Logger()
	return s
}

// SessionHooks returns AMI session callbacks that feed the metrics and
// publish connection status.
func (s *Service) SessionHooks() ami.Hooks {
	return ami.Hooks{
		OnCommand: func(command, kind string, elapsed time.Duration) {
			telemetry.AMICommands.WithLabelValues(kind).Inc()
			telemetry.AMICommandDuration.Observe(elapsed.Seconds())
		},
		OnReconnect: func(err error) {
			result := "ok"
			if err != nil {
				result = "failed"
			}
			telemetry.AMIReconnects.WithLabelValues(result).Inc()
		},
		OnStateChange: func(connected bool) {
			if connected {
				telemetry.AMIConnected.Set(1)
			} else {
				telemetry.AMIConnected.Set(0)
			}
			s.PublishStatus(connected, "", "")
		},
	}
}

// PublishStatus publishes the AMI connection state on the bridge status
// subject.
func (s *Service) PublishStatus(connected bool, banner, message string) {
	typ := models.EventTypeAMIDisconnected
	if connected {
		typ = models.EventTypeAMIConnected
	}
	ev := models.NewDongleEvent(typ, "", "")
	ev.Connected = &connected
	ev.Banner = banner
	ev.Message = message
	s.publish(models.SubjectBridgeStatus, ev)
}

// DevicesChanged implements discovery.Listener. Every device in the
// snapshot is upserted as present; removed devices are marked absent.
func (s *Service) DevicesChanged(ctx context.Context, current discovery.Snapshot, changes discovery.Changes) {
	now := time.Now()

	for _, d := range current.Devices() {
		if err := s.store.UpsertDongle(ctx, models.DongleFromDevice(d, now)); err != nil {
			s.log.Error().Err(err).Str("imei", d.IMEI).Msg("Failed to store dongle")
		}
	}

	for _, d := range changes.Added {
		ev := models.NewDongleEvent(models.EventTypeDongleAdded, d.IMEI, d.DongleID)
		ev.Device = &d
		s.publish(deviceSubject(d.IMEI, models.EventAdded), ev)
	}

	for _, imei := range changes.Removed {
		if err := s.store.MarkDongleAbsent(ctx, imei, now); err != nil {
			s.log.Error().Err(err).Str("imei", imei).Msg("Failed to mark dongle absent")
		}
		s.states.Delete(imei)
		telemetry.SignalDBm.DeletePartialMatch(map[string]string{"imei": imei})
		s.publish(deviceSubject(imei, models.EventRemoved), models.NewDongleEvent(models.EventTypeDongleRemoved, imei, ""))
	}
}

// Devices returns the devices of the current snapshot ordered by IMEI
func (s *Service) Devices() []dongle.Device {
	return s.cell.Load().Devices()
}

// State returns the state of a device, from cache unless refresh is set or
// the cached entry has expired.
func (s *Service) State(ctx context.Context, imei string, refresh bool) (*models.DongleState, error) {
	if !refresh {
		if v, ok := s.states.Get(imei); ok {
			return v.(*models.DongleState), nil
		}
	}
	return s.RefreshState(ctx, imei)
}

// RefreshState reads the state dump of a device, stores it and publishes a
// state event.
func (s *Service) RefreshState(ctx context.Context, imei string) (*models.DongleState, error) {
	ctx, span := telemetry.StartSpan(ctx, "bridge.RefreshState")
	defer span.End()

	d, err := s.lookup(imei)
	if err != nil {
		return nil, err
	}
	cmd, err := dongle.ShowDeviceState(d.DongleID)
	if err != nil {
		return nil, err
	}

	res, err := s.run(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read state of %s: %w", d.DongleID, err)
	}

	dump, warnings := dongle.ParseDeviceState(res.Raw)
	for _, w := range warnings {
		s.log.Warn().Str("imei", imei).Str("warning", w.String()).Msg("Skipped state line")
	}
	telemetry.ParseWarnings.WithLabelValues("state").Add(float64(len(warnings)))

	state := models.DongleStateFromDump(imei, d.DongleID, dump, time.Now())
	s.states.SetDefault(imei, state)

	if state.SignalDBm != nil {
		telemetry.SignalDBm.WithLabelValues(imei, d.DongleID).Set(float64(*state.SignalDBm))
	}

	if err := s.store.SaveDongleState(ctx, state); err != nil {
		s.log.Error().Err(err).Str("imei", imei).Msg("Failed to store dongle state")
	}

	sig := dump.Signal()
	ev := models.NewDongleEvent(models.EventTypeDongleState, imei, d.DongleID)
	ev.State = dump
	ev.Signal = &sig
	ev.Attrs = dump.Attributes()
	s.publish(deviceSubject(imei, models.EventState), ev)

	return state, nil
}

// SendSMS sends a text message through the dongle with the given IMEI
func (s *Service) SendSMS(ctx context.Context, imei, number, text string) (ami.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "bridge.SendSMS")
	defer span.End()

	d, err := s.lookup(imei)
	if err != nil {
		return ami.Result{}, err
	}
	cmd, err := dongle.SendSMS(d.DongleID, number, text)
	if err != nil {
		return ami.Result{}, err
	}

	res, err := s.run(ctx, cmd)
	s.messageResult("sms", d, err, map[string]string{"number": number, "length": strconv.Itoa(len(text))})
	return res, err
}

// SendUSSD sends a USSD code through the dongle with the given IMEI
func (s *Service) SendUSSD(ctx context.Context, imei, code string) (ami.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "bridge.SendUSSD")
	defer span.End()

	d, err := s.lookup(imei)
	if err != nil {
		return ami.Result{}, err
	}
	cmd, err := dongle.SendUSSD(d.DongleID, code)
	if err != nil {
		return ami.Result{}, err
	}

	res, err := s.run(ctx, cmd)
	s.messageResult("ussd", d, err, map[string]string{"code": code})
	return res, err
}

// Exec runs a raw console command. A Response: Error reply is returned as
// is, not as an error.
func (s *Service) Exec(ctx context.Context, command string) (ami.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "bridge.Exec")
	defer span.End()

	return s.exec.Execute(ctx, command)
}

// RunStateMonitor refreshes the state of every known device each interval
// until ctx is cancelled.
func (s *Service) RunStateMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Service) refreshAll(ctx context.Context) {
	for _, imei := range s.cell.Load().IMEIs() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RefreshState(ctx, imei); err != nil {
			s.log.Warn().Err(err).Str("imei", imei).Msg("State poll failed")
		}
	}
}

// run executes cmd and turns a Response: Error reply into an error
func (s *Service) run(ctx context.Context, cmd string) (ami.Result, error) {
	res, err := s.exec.Execute(ctx, cmd)
	if err != nil {
		return res, err
	}
	if dongle.IsErrorResponse(res.Raw) {
		return res, fmt.Errorf("%w: %s", discovery.ErrCommandRejected, res.Response().Message())
	}
	return res, nil
}

func (s *Service) lookup(imei string) (dongle.Device, error) {
	d, ok := s.cell.Lookup(imei)
	if !ok {
		return dongle.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, imei)
	}
	return d, nil
}

func (s *Service) messageResult(kind string, d dongle.Device, err error, attrs map[string]string) {
	sent, failed, event := models.EventTypeSMSSent, models.EventTypeSMSFailed, models.EventSMS
	if kind == "ussd" {
		sent, failed, event = models.EventTypeUSSDSent, models.EventTypeUSSDFailed, models.EventUSSD
	}

	ev := models.NewDongleEvent(sent, d.IMEI, d.DongleID)
	result := "ok"
	if err != nil {
		result = "failed"
		ev.Type = failed
		ev.Message = err.Error()
		s.log.Error().Err(err).Str("imei", d.IMEI).Str("type", kind).Msg("Message not sent")
	} else {
		s.log.Info().Str("imei", d.IMEI).Str("dongle", d.DongleID).Str("type", kind).Msg("Message sent")
	}
	telemetry.MessagesSent.WithLabelValues(kind, result).Inc()

	ev.Attrs = attrs
	s.publish(deviceSubject(d.IMEI, event), ev)
}

func (s *Service) publish(subject string, ev *models.DongleEvent) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}
	if err := s.pub.Publish(subject, data); err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

func deviceSubject(imei, event string) string {
	return fmt.Sprintf(models.SubjectDeviceEvents, imei, event)
}
