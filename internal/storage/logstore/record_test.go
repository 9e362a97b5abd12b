package logstore

import (
	"testing"

	"github.com/rzbill/tailer/internal/tailer"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	topic := tailer.TopicUUID{Namespace: "ns", Name: "orders"}
	payload := []byte("hello world")

	enc := encodeRecord(topic, payload)
	dec, ok := decodeRecord(enc)
	if !ok {
		t.Fatalf("decodeRecord failed on a freshly encoded record")
	}
	if dec.Topic != topic {
		t.Fatalf("topic = %v, want %v", dec.Topic, topic)
	}
	if string(dec.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", dec.Payload, payload)
	}
}

func TestDecodeRecordRejectsCorruption(t *testing.T) {
	topic := tailer.TopicUUID{Namespace: "ns", Name: "orders"}
	enc := encodeRecord(topic, []byte("payload"))
	enc[len(enc)-1] ^= 0xFF // flip a bit in the crc

	if _, ok := decodeRecord(enc); ok {
		t.Fatalf("decodeRecord should reject a corrupted record")
	}
}

func TestDecodeRecordRejectsTruncated(t *testing.T) {
	if _, ok := decodeRecord([]byte{1, 2}); ok {
		t.Fatalf("decodeRecord should reject a too-short buffer")
	}
}
