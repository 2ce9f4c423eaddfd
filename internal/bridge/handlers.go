package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/discovery"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/models"
	"github.com/dongle-server/dongle-server/internal/validation"
)

// DefaultRequestTimeout bounds the handling of one NATS request
const DefaultRequestTimeout = 30 * time.Second

// Subscriber registers subject handlers. *nats.Conn implements it.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Poll runs a discovery cycle. (*discovery.Poller).Poll matches it.
type Poll func(ctx context.Context) (discovery.Changes, error)

// Handlers serves the bridge request subjects
type Handlers struct {
	svc       *Service
	poll      Poll
	validator *validation.Validator
	timeout   time.Duration
	subs      []*nats.Subscription
}

// NewHandlers creates request handlers. poll may be nil, in which case
// device list refresh requests return the current snapshot.
func NewHandlers(svc *Service, poll Poll, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Handlers{
		svc:       svc,
		poll:      poll,
		validator: validation.NewValidator(),
		timeout:   timeout,
	}
}

// Start subscribes to the request subjects and blocks until ctx is done.
func (h *Handlers) Start(ctx context.Context, sub Subscriber) error {
	routes := map[string]func(context.Context, []byte) models.BridgeReply{
		models.SubjectCmdDevices: h.handleDevices,
		models.SubjectCmdState:   h.handleState,
		models.SubjectCmdSMS:     h.handleSMS,
		models.SubjectCmdUSSD:    h.handleUSSD,
		models.SubjectCmdExec:    h.handleExec,
	}

	for subject, handle := range routes {
		s, err := sub.Subscribe(subject, h.wrap(ctx, handle))
		if err != nil {
			h.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		h.subs = append(h.subs, s)
	}

	h.svc.log.Info().Int("subscriptions", len(h.subs)).Msg("Bridge request handlers started")

	<-ctx.Done()
	h.unsubscribe()
	return ctx.Err()
}

func (h *Handlers) unsubscribe() {
	for _, s := range h.subs {
		if s != nil {
			_ = s.Unsubscribe()
		}
	}
	h.subs = nil
}

func (h *Handlers) wrap(ctx context.Context, handle func(context.Context, []byte) models.BridgeReply) nats.MsgHandler {
	return func(msg *nats.Msg) {
		reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		reply := handle(reqCtx, msg.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			h.svc.log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to marshal reply")
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			h.svc.log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to send reply")
		}
	}
}

func (h *Handlers) handleDevices(ctx context.Context, data []byte) models.BridgeReply {
	var req models.DevicesRequest
	if err := h.decode(data, &req); err != nil {
		return errorReply(err)
	}

	if req.Refresh && h.poll != nil {
		if _, err := h.poll(ctx); err != nil {
			return errorReply(err)
		}
	}

	return models.BridgeReply{OK: true, Devices: h.svc.Devices()}
}

func (h *Handlers) handleState(ctx context.Context, data []byte) models.BridgeReply {
	var req models.StateRequest
	if err := h.decode(data, &req); err != nil {
		return errorReply(err)
	}

	state, err := h.svc.State(ctx, req.IMEI, req.Refresh)
	if err != nil {
		return errorReply(err)
	}
	return models.BridgeReply{OK: true, State: state}
}

func (h *Handlers) handleSMS(ctx context.Context, data []byte) models.BridgeReply {
	var req models.SMSRequest
	if err := h.decode(data, &req); err != nil {
		return errorReply(err)
	}
	return resultReply(h.svc.SendSMS(ctx, req.IMEI, req.Number, req.Text))
}

func (h *Handlers) handleUSSD(ctx context.Context, data []byte) models.BridgeReply {
	var req models.USSDRequest
	if err := h.decode(data, &req); err != nil {
		return errorReply(err)
	}
	return resultReply(h.svc.SendUSSD(ctx, req.IMEI, req.Code))
}

func (h *Handlers) handleExec(ctx context.Context, data []byte) models.BridgeReply {
	var req models.ExecRequest
	if err := h.decode(data, &req); err != nil {
		return errorReply(err)
	}
	return resultReply(h.svc.Exec(ctx, req.Command))
}

// decode unmarshals and validates a request. An empty payload is an empty
// request.
func (h *Handlers) decode(data []byte, v interface{}) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %v", validation.ErrInvalid, err)
		}
	}
	return h.validator.Validate(v)
}

func resultReply(res ami.Result, err error) models.BridgeReply {
	if err != nil {
		reply := errorReply(err)
		reply.Raw = res.Raw
		return reply
	}
	return models.BridgeReply{
		OK:     true,
		Raw:    res.Raw,
		Output: dongle.CommandOutput(res.Raw),
	}
}

func errorReply(err error) models.BridgeReply {
	return models.BridgeReply{Error: err.Error(), Kind: ErrorKind(err)}
}

// ErrorKind classifies errors for replies: the AMI kinds plus invalid,
// not_found and command.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, validation.ErrInvalid), errors.Is(err, dongle.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrUnknownDevice):
		return "not_found"
	case errors.Is(err, discovery.ErrCommandRejected):
		return "command"
	default:
		return ami.Kind(err)
	}
}
