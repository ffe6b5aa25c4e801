package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types double as Kafka topic names (production-style: event per topic).
const (
	TypeAccountCreated       = "account.created.v1"
	TypeAccountStatusChanged = "account.status.changed.v1"
	TypeBalanceDeposited     = "account.balance.deposited.v1"
	TypeBalanceWithdrawn     = "account.balance.withdrawn.v1"
	TypeContactInfoChanged   = "account.contact.changed.v1"
	TypePersonalInfoUpdated  = "account.personal.updated.v1"
)

const (
	retrySuffix = ".retry"

	// DeadLetterTopic receives terminally failed messages from every source topic.
	DeadLetterTopic = "account.events.dlq.v1"
)

var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrUnknownEventType = errors.New("unknown event type")
)

// Types lists every event type the service publishes and consumes.
func Types() []string {
	return []string{
		TypeAccountCreated,
		TypeAccountStatusChanged,
		TypeBalanceDeposited,
		TypeBalanceWithdrawn,
		TypeContactInfoChanged,
		TypePersonalInfoUpdated,
	}
}

// RetryTopic maps a topic to its dedicated retry topic. Idempotent, so a
// message already on a retry topic is republished to the same one.
func RetryTopic(topic string) string {
	if strings.HasSuffix(topic, retrySuffix) {
		return topic
	}
	return topic + retrySuffix
}

// Envelope is the wire form of every domain event. Version is the
// post-mutation version of the aggregate that produced the event.
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

type AccountCreated struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Currency  string `json:"currency"`
}

type AccountStatusChanged struct {
	Status string `json:"status"`
}

type BalanceDeposited struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type BalanceWithdrawn struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type ContactInfoChanged struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type PersonalInfoUpdated struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Handler is the closed set of event consumers. One method per concrete event
// type, so adding a type forces every consumer to handle it at compile time.
type Handler interface {
	OnAccountCreated(ctx context.Context, env Envelope, e AccountCreated) error
	OnAccountStatusChanged(ctx context.Context, env Envelope, e AccountStatusChanged) error
	OnBalanceDeposited(ctx context.Context, env Envelope, e BalanceDeposited) error
	OnBalanceWithdrawn(ctx context.Context, env Envelope, e BalanceWithdrawn) error
	OnContactInfoChanged(ctx context.Context, env Envelope, e ContactInfoChanged) error
	OnPersonalInfoUpdated(ctx context.Context, env Envelope, e PersonalInfoUpdated) error
}

// NewEnvelope wraps an event payload for publication.
func NewEnvelope(eventType, aggregateID string, version int64, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Version:     version,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}, nil
}

func MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes the wire form. Failures classify as serialization
// errors: bad bytes will not become good bytes on retry.
func UnmarshalEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.EventType == "" || env.AggregateID == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type or aggregate_id", ErrMalformedPayload)
	}
	return env, nil
}

// Dispatch decodes the envelope payload and invokes the matching handler
// method. The switch is exhaustive over the event types above.
func Dispatch(ctx context.Context, env Envelope, h Handler) error {
	switch env.EventType {
	case TypeAccountCreated:
		var e AccountCreated
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnAccountCreated(ctx, env, e)
	case TypeAccountStatusChanged:
		var e AccountStatusChanged
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnAccountStatusChanged(ctx, env, e)
	case TypeBalanceDeposited:
		var e BalanceDeposited
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnBalanceDeposited(ctx, env, e)
	case TypeBalanceWithdrawn:
		var e BalanceWithdrawn
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnBalanceWithdrawn(ctx, env, e)
	case TypeContactInfoChanged:
		var e ContactInfoChanged
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnContactInfoChanged(ctx, env, e)
	case TypePersonalInfoUpdated:
		var e PersonalInfoUpdated
		if err := decode(env, &e); err != nil {
			return err
		}
		return h.OnPersonalInfoUpdated(ctx, env, e)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}

func decode(env Envelope, out any) error {
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, env.EventType, err)
	}
	return nil
}
