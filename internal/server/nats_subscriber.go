package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/dongle-server/dongle-server/internal/models"
)

// Subscriber registers subject handlers. *nats.Conn implements it.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// EventStore is the part of storage.Store the subscriber writes to
type EventStore interface {
	CreateEventLog(ctx context.Context, event *models.EventLog) error
}

// NATSSubscriber writes bridge events to the event log
type NATSSubscriber struct {
	nc    Subscriber
	store EventStore
	subs  []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc Subscriber, store EventStore) *NATSSubscriber {
	return &NATSSubscriber{
		nc:    nc,
		store: store,
		subs:  make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	// Subscribe to device events from the bridge
	sub1, err := s.nc.Subscribe(models.SubjectDeviceAll, s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe device events: %w", err)
	}
	s.subs = append(s.subs, sub1)

	// Subscribe to bridge connection status
	sub2, err := s.nc.Subscribe(models.SubjectBridgeStatus, s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe bridge status: %w", err)
	}
	s.subs = append(s.subs, sub2)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleEvent stores one bridge event
func (s *NATSSubscriber) handleEvent(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received dongle event")

	var ev models.DongleEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal dongle event")
		return
	}

	entry := EventLogFromEvent(&ev)
	if entry == nil {
		return
	}

	if err := s.store.CreateEventLog(context.Background(), entry); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
		return
	}

	log.Info().
		Str("imei", ev.IMEI).
		Str("type", string(ev.Type)).
		Msg("Dongle event logged")
}

// EventLogFromEvent converts a bridge event to an event log entry. State
// events are kept in dongle_states by the bridge and return nil.
func EventLogFromEvent(ev *models.DongleEvent) *models.EventLog {
	entry := &models.EventLog{
		ID:        ev.ID,
		CreatedAt: ev.Timestamp,
		IMEI:      ev.IMEI,
		DongleID:  ev.DongleID,
		Type:      ev.Type,
		Level:     models.EventLevelInfo,
		Code:      string(ev.Type),
		Details:   models.Variables{},
	}

	switch ev.Type {
	case models.EventTypeDongleState:
		return nil

	case models.EventTypeDongleAdded:
		entry.Description = "Dongle discovered"
		if ev.Device != nil {
			entry.Description = fmt.Sprintf("Dongle %s discovered - %s %s", ev.Device.DongleID, ev.Device.Provider, ev.Device.Model)
			entry.Details["provider"] = ev.Device.Provider
			entry.Details["model"] = ev.Device.Model
			entry.Details["firmware"] = ev.Device.Firmware
			entry.Details["number"] = ev.Device.Number
		}

	case models.EventTypeDongleRemoved:
		entry.Level = models.EventLevelWarning
		entry.Description = "Dongle no longer reported by the manager"

	case models.EventTypeSMSSent, models.EventTypeUSSDSent:
		entry.Description = "Message sent"

	case models.EventTypeSMSFailed, models.EventTypeUSSDFailed:
		entry.Level = models.EventLevelError
		entry.Description = "Message failed: " + ev.Message

	case models.EventTypeAMIConnected:
		entry.Description = "Manager connection established"
		if ev.Banner != "" {
			entry.Details["banner"] = ev.Banner
		}

	case models.EventTypeAMIDisconnected:
		entry.Level = models.EventLevelWarning
		entry.Description = "Manager connection lost"

	default:
		entry.Level = models.EventLevelDebug
		entry.Description = "Unknown event"
	}

	for k, v := range ev.Attrs {
		entry.Details[k] = v
	}
	if ev.Message != "" {
		entry.Details["message"] = ev.Message
	}
	return entry
}
