package kafkax

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

const (
	// RetryCountHeader carries the number of retry republishes a message has
	// been through, as a decimal string.
	RetryCountHeader = "X-Retry-Count"
	// ErrorMessageHeader carries the last handler error on DLQ-bound messages.
	ErrorMessageHeader = "error_message"
)

// RetryMetadata is the typed view of the retry side channel. It exists only in
// memory; headers are the wire form.
type RetryMetadata struct {
	Count     int
	LastError string
}

// RetryMetadataFromHeaders decodes retry metadata from message headers.
// An absent or malformed count reads as 0.
func RetryMetadataFromHeaders(headers []kafka.Header) RetryMetadata {
	meta := RetryMetadata{}
	if raw := HeaderValue(headers, RetryCountHeader); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			meta.Count = n
		}
	}
	meta.LastError = HeaderValue(headers, ErrorMessageHeader)
	return meta
}

// Apply encodes the metadata onto a copy of headers, replacing any prior
// retry-count or error-message header and preserving everything else.
// The error-message header is only written when LastError is non-empty.
func (m RetryMetadata) Apply(headers []kafka.Header) []kafka.Header {
	overrides := []kafka.Header{
		{Key: RetryCountHeader, Value: []byte(strconv.Itoa(m.Count))},
	}
	if m.LastError != "" {
		overrides = append(overrides, kafka.Header{Key: ErrorMessageHeader, Value: []byte(m.LastError)})
	}
	return MergeHeaders(headers, overrides)
}

// MergeHeaders returns base with overrides applied; on key collision the
// override wins and keeps the base header's position.
func MergeHeaders(base, overrides []kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, len(base))
	copy(merged, base)

	for _, o := range overrides {
		replaced := false
		for i := range merged {
			if merged[i].Key == o.Key {
				merged[i].Value = o.Value
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, o)
		}
	}
	return merged
}
