package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/dongle-server/dongle-server/internal/models"
)

const sendTimeout = 5 * time.Second

// Sink delivers a dongle event to an external system
type Sink interface {
	Name() string
	Send(ctx context.Context, topic string, retained bool, payload []byte) error
	Close()
}

// Subscriber registers subject handlers. *nats.Conn implements it.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ForwarderService republishes dongle events from NATS to the configured
// sinks.
type ForwarderService struct {
	sub    Subscriber
	prefix string
	sinks  []Sink
}

// NewForwarderService creates a forwarder. prefix is the first topic level
// of every forwarded message.
func NewForwarderService(sub Subscriber, prefix string, sinks ...Sink) *ForwarderService {
	return &ForwarderService{
		sub:    sub,
		prefix: strings.Trim(prefix, "/"),
		sinks:  sinks,
	}
}

// Start subscribes to the event subjects and blocks until ctx is done
func (s *ForwarderService) Start(ctx context.Context) error {
	handler := func(msg *nats.Msg) {
		s.forward(ctx, msg.Subject, msg.Data)
	}

	subDevice, err := s.sub.Subscribe(models.SubjectDeviceAll, handler)
	if err != nil {
		return fmt.Errorf("subscribe to device events: %w", err)
	}

	subStatus, err := s.sub.Subscribe(models.SubjectBridgeStatus, handler)
	if err != nil {
		subDevice.Unsubscribe()
		return fmt.Errorf("subscribe to bridge status: %w", err)
	}

	names := make([]string, 0, len(s.sinks))
	for _, sink := range s.sinks {
		names = append(names, sink.Name())
	}
	log.Info().Strs("sinks", names).Msg("Integration forwarder service started")

	<-ctx.Done()

	subDevice.Unsubscribe()
	subStatus.Unsubscribe()
	for _, sink := range s.sinks {
		sink.Close()
	}

	return nil
}

// forward sends one NATS message to every sink
func (s *ForwarderService) forward(ctx context.Context, subject string, data []byte) {
	topic, retained, ok := Topic(s.prefix, subject)
	if !ok {
		log.Debug().Str("subject", subject).Msg("Ignoring unexpected subject")
		return
	}

	for _, sink := range s.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(sendCtx, topic, retained, data)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("topic", topic).
				Msg("Failed to forward event")
			continue
		}

		log.Debug().
			Str("sink", sink.Name()).
			Str("topic", topic).
			Msg("Event forwarded")
	}
}

// Topic maps a NATS subject to its forwarding topic.
// dongle.device.<imei>.<event> becomes <prefix>/<imei>/<event>, and the
// bridge status becomes the retained topic <prefix>/bridge/status.
func Topic(prefix, subject string) (topic string, retained bool, ok bool) {
	if subject == models.SubjectBridgeStatus {
		return join(prefix, "bridge", "status"), true, true
	}

	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "dongle" || parts[1] != "device" || parts[2] == "" || parts[3] == "" {
		return "", false, false
	}
	return join(prefix, parts[2], parts[3]), false, true
}

func join(prefix string, levels ...string) string {
	if prefix == "" {
		return strings.Join(levels, "/")
	}
	return prefix + "/" + strings.Join(levels, "/")
}
