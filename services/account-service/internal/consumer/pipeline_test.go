package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/AleksK1NG/account-projections/libs/kafkax"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/projection"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers []kafka.Header
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []published
	fail     error
}

func (p *capturePublisher) Publish(ctx context.Context, topic, key string, env events.Envelope, headers []kafka.Header) error {
	payload, err := events.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, topic, key, payload, headers)
}

func (p *capturePublisher) PublishRaw(_ context.Context, topic, key string, payload []byte, headers []kafka.Header) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (p *capturePublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// stubHandler fails every event with a fixed error.
type stubHandler struct {
	err   error
	calls int
}

func (h *stubHandler) on() error {
	h.calls++
	return h.err
}

func (h *stubHandler) OnAccountCreated(context.Context, events.Envelope, events.AccountCreated) error {
	return h.on()
}
func (h *stubHandler) OnAccountStatusChanged(context.Context, events.Envelope, events.AccountStatusChanged) error {
	return h.on()
}
func (h *stubHandler) OnBalanceDeposited(context.Context, events.Envelope, events.BalanceDeposited) error {
	return h.on()
}
func (h *stubHandler) OnBalanceWithdrawn(context.Context, events.Envelope, events.BalanceWithdrawn) error {
	return h.on()
}
func (h *stubHandler) OnContactInfoChanged(context.Context, events.Envelope, events.ContactInfoChanged) error {
	return h.on()
}
func (h *stubHandler) OnPersonalInfoUpdated(context.Context, events.Envelope, events.PersonalInfoUpdated) error {
	return h.on()
}

type captureRepairer struct {
	mu  sync.Mutex
	ids []string
}

func (r *captureRepairer) Repair(_ context.Context, aggregateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, aggregateID)
	return nil
}

func (r *captureRepairer) repaired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestPipeline(t *testing.T, handler events.Handler, repairer Repairer) (*Pipeline, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	p := NewPipeline(pub, handler, repairer, slog.Default(), PipelineConfig{
		MaxRetries: 3,
	})
	p.Start(context.Background())
	return p, pub
}

func depositMessage(t *testing.T, aggregateID string, version int64, headers []kafka.Header) kafka.Message {
	t.Helper()
	env, err := events.NewEnvelope(events.TypeBalanceDeposited, aggregateID, version, events.BalanceDeposited{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	payload, err := events.MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return kafka.Message{
		Topic:   events.TypeBalanceDeposited,
		Key:     []byte(aggregateID),
		Value:   payload,
		Headers: headers,
	}
}

func TestPipeline_SuccessPublishesNothing(t *testing.T) {
	handler := &stubHandler{}
	repairer := &captureRepairer{}
	p, pub := newTestPipeline(t, handler, repairer)
	defer p.Shutdown()

	if err := p.Process(context.Background(), depositMessage(t, "acc-1", 1, nil)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 1 {
		t.Fatalf("expected 1 handler call, got %d", handler.calls)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no publishes on success, got %d", len(pub.messages))
	}
}

func TestPipeline_RetryEscalationThenDLQ(t *testing.T) {
	handler := &stubHandler{err: fmt.Errorf("projection lagging: %w", projection.ErrAheadVersion)}
	repairer := &captureRepairer{}
	p, pub := newTestPipeline(t, handler, repairer)

	retryTopic := events.RetryTopic(events.TypeBalanceDeposited)

	// First delivery on the primary topic, then each retry delivery arrives on
	// the retry topic carrying the previously incremented header.
	msg := depositMessage(t, "acc-1", 5, nil)
	for i := 0; i < 4; i++ {
		if err := p.Process(context.Background(), msg); err != nil {
			t.Fatalf("process delivery %d: %v", i, err)
		}
		retries := pub.byTopic(retryTopic)
		if i < 3 {
			if len(retries) != i+1 {
				t.Fatalf("delivery %d: expected %d retry publishes, got %d", i, i+1, len(retries))
			}
			last := retries[len(retries)-1]
			want := strconv.Itoa(i + 1)
			if got := kafkax.HeaderValue(last.headers, kafkax.RetryCountHeader); got != want {
				t.Fatalf("delivery %d: expected retry count %s, got %q", i, want, got)
			}
			// The republished payload is the original, byte for byte.
			if string(last.payload) != string(msg.Value) {
				t.Fatalf("delivery %d: retry payload was modified", i)
			}
			msg = kafka.Message{Topic: retryTopic, Key: msg.Key, Value: msg.Value, Headers: last.headers}
		}
	}

	if got := len(pub.byTopic(retryTopic)); got != 3 {
		t.Fatalf("expected exactly 3 retry publishes, got %d", got)
	}
	dlq := pub.byTopic(events.DeadLetterTopic)
	if len(dlq) != 1 {
		t.Fatalf("expected 1 dlq publish, got %d", len(dlq))
	}
	if got := kafkax.HeaderValue(dlq[0].headers, kafkax.ErrorMessageHeader); got == "" {
		t.Fatal("expected error_message header on dlq message")
	}

	p.Shutdown()
	if got := repairer.repaired(); len(got) != 1 || got[0] != "acc-1" {
		t.Fatalf("expected one repair for acc-1, got %v", got)
	}
}

func TestPipeline_MalformedPayloadGoesStraightToDLQ(t *testing.T) {
	handler := &stubHandler{}
	repairer := &captureRepairer{}
	p, pub := newTestPipeline(t, handler, repairer)

	msg := kafka.Message{
		Topic: events.TypeBalanceDeposited,
		Key:   []byte("acc-9"),
		Value: []byte("{not json"),
	}
	if err := p.Process(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	if handler.calls != 0 {
		t.Fatalf("handler must not run for malformed payload, got %d calls", handler.calls)
	}
	if got := len(pub.byTopic(events.RetryTopic(msg.Topic))); got != 0 {
		t.Fatalf("malformed payload must not be retried, got %d retries", got)
	}
	dlq := pub.byTopic(events.DeadLetterTopic)
	if len(dlq) != 1 {
		t.Fatalf("expected 1 dlq publish, got %d", len(dlq))
	}
	if string(dlq[0].payload) != string(msg.Value) {
		t.Fatal("dlq payload must be the original bytes")
	}

	p.Shutdown()
	// No decodable aggregate id, so no repair.
	if got := repairer.repaired(); len(got) != 0 {
		t.Fatalf("expected no repair, got %v", got)
	}
}

func TestPipeline_UnprocessableSkipsRetry(t *testing.T) {
	handler := &stubHandler{err: fmt.Errorf("stale: %w", projection.ErrSameVersion)}
	repairer := &captureRepairer{}
	p, pub := newTestPipeline(t, handler, repairer)

	if err := p.Process(context.Background(), depositMessage(t, "acc-7", 1, nil)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := len(pub.byTopic(events.RetryTopic(events.TypeBalanceDeposited))); got != 0 {
		t.Fatalf("unprocessable error must not be retried, got %d retries", got)
	}
	if got := len(pub.byTopic(events.DeadLetterTopic)); got != 1 {
		t.Fatalf("expected 1 dlq publish, got %d", got)
	}

	p.Shutdown()
	if got := repairer.repaired(); len(got) != 1 || got[0] != "acc-7" {
		t.Fatalf("expected repair for acc-7, got %v", got)
	}
}

func TestPipeline_TransportFailureLeavesMessageUncommitted(t *testing.T) {
	handler := &stubHandler{err: fmt.Errorf("lagging: %w", projection.ErrAheadVersion)}
	repairer := &captureRepairer{}
	pub := &capturePublisher{fail: errors.New("broker unreachable")}
	p := NewPipeline(pub, handler, repairer, slog.Default(), PipelineConfig{MaxRetries: 3})
	p.Start(context.Background())
	defer p.Shutdown()

	if err := p.Process(context.Background(), depositMessage(t, "acc-8", 2, nil)); err == nil {
		t.Fatal("expected transport error to surface so the offset is not committed")
	}
}
