package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if got := SplitBrokers(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestExtractEventMeta(t *testing.T) {
	msg := kafka.Message{
		Topic: "account.created.v1",
		Key:   []byte("acc-1"),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("e-42")},
			{Key: "event_type", Value: []byte("account.created.v1")},
		},
	}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "e-42" || meta.EventType != "account.created.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	// Falls back to key and topic when headers are absent.
	meta = ExtractEventMeta(kafka.Message{Topic: "t", Key: []byte("k")})
	if meta.EventID != "k" || meta.EventType != "t" {
		t.Fatalf("unexpected fallback meta: %+v", meta)
	}
}
