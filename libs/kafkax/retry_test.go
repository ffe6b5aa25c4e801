package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestRetryMetadataFromHeaders_AbsentReadsZero(t *testing.T) {
	meta := RetryMetadataFromHeaders(nil)
	if meta.Count != 0 {
		t.Fatalf("expected count 0, got %d", meta.Count)
	}
	if meta.LastError != "" {
		t.Fatalf("expected empty last error, got %q", meta.LastError)
	}
}

func TestRetryMetadataFromHeaders_MalformedReadsZero(t *testing.T) {
	headers := []kafka.Header{
		{Key: RetryCountHeader, Value: []byte("not-a-number")},
	}
	if got := RetryMetadataFromHeaders(headers).Count; got != 0 {
		t.Fatalf("expected count 0 for malformed header, got %d", got)
	}

	headers = []kafka.Header{
		{Key: RetryCountHeader, Value: []byte("-2")},
	}
	if got := RetryMetadataFromHeaders(headers).Count; got != 0 {
		t.Fatalf("expected count 0 for negative header, got %d", got)
	}
}

func TestRetryMetadata_ApplyReplacesPriorCount(t *testing.T) {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte("e-1")},
		{Key: RetryCountHeader, Value: []byte("1")},
	}

	out := RetryMetadata{Count: 2}.Apply(headers)

	if got := HeaderValue(out, RetryCountHeader); got != "2" {
		t.Fatalf("expected retry count 2, got %q", got)
	}
	if got := HeaderValue(out, "event_id"); got != "e-1" {
		t.Fatalf("expected event_id preserved, got %q", got)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(out))
	}
	// The input slice must not be mutated; republish reuses original headers.
	if got := HeaderValue(headers, RetryCountHeader); got != "1" {
		t.Fatalf("input headers mutated: retry count %q", got)
	}
}

func TestRetryMetadata_ApplyWritesErrorOnlyWhenPresent(t *testing.T) {
	out := RetryMetadata{Count: 3}.Apply(nil)
	if got := HeaderValue(out, ErrorMessageHeader); got != "" {
		t.Fatalf("expected no error_message header, got %q", got)
	}

	out = RetryMetadata{Count: 3, LastError: "boom"}.Apply(nil)
	if got := HeaderValue(out, ErrorMessageHeader); got != "boom" {
		t.Fatalf("expected error_message %q, got %q", "boom", got)
	}
}

func TestMergeHeaders_OverridesWin(t *testing.T) {
	base := []kafka.Header{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	overrides := []kafka.Header{
		{Key: "b", Value: []byte("20")},
		{Key: "c", Value: []byte("3")},
	}

	out := MergeHeaders(base, overrides)
	if len(out) != 3 {
		t.Fatalf("expected 3 headers, got %d", len(out))
	}
	if out[0].Key != "a" || string(out[0].Value) != "1" {
		t.Fatalf("unexpected first header %s=%s", out[0].Key, out[0].Value)
	}
	if out[1].Key != "b" || string(out[1].Value) != "20" {
		t.Fatalf("override lost: %s=%s", out[1].Key, out[1].Value)
	}
	if out[2].Key != "c" || string(out[2].Value) != "3" {
		t.Fatalf("unexpected appended header %s=%s", out[2].Key, out[2].Value)
	}
}
