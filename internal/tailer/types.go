// Package tailer implements the Topic Tailer: the subsystem that turns a
// small pool of physical log readers into per-topic, per-subscriber
// delivery streams.
//
// All mutable state in this package is owned by exactly one goroutine per
// Tailer (the "room loop" started by Run). Storage-side goroutines only ever
// communicate inward through SendLogRecord/SendGapRecord, which enqueue a
// command onto a bounded queue rather than touching Tailer state directly.
package tailer

import "fmt"

// LogID identifies one physical storage log. Many topics interleave onto one
// log; a LogRouter maps a TopicUUID to exactly one LogID.
type LogID uint64

// SequenceNumber is a per-log monotonically increasing append position.
// Zero is reserved to mean "unset" / "subscribe at tail".
type SequenceNumber uint64

// TopicUUID identifies a logical stream. Namespace and Name are both part of
// its identity; two topics with the same Name in different Namespaces are
// unrelated.
type TopicUUID struct {
	Namespace string
	Name      string
}

func (t TopicUUID) String() string {
	return fmt.Sprintf("%s/%s", t.Namespace, t.Name)
}

// CopilotSub identifies one subscriber on one connection: a (stream,
// subscription) pair. It is the subscription handle used throughout this
// package (the handle-based ClientImpl model; see SPEC_FULL.md §11).
type CopilotSub struct {
	StreamID uint64
	SubID    uint64
}

func (c CopilotSub) String() string {
	return fmt.Sprintf("stream:%d/sub:%d", c.StreamID, c.SubID)
}

// GapType classifies a gap reported by storage.
type GapType int

const (
	// GapBenign means the range [from,to] legitimately has no records for
	// the affected topics (e.g. retention skipped over them cleanly). No
	// data was lost and per-topic history is preserved.
	GapBenign GapType = iota
	// GapRetention means the range was dropped by retention before it could
	// be read: per-topic history for the affected log must be flushed.
	GapRetention
	// GapDataLoss means the storage layer lost data outright. Handled
	// identically to GapRetention from the Tailer's point of view.
	GapDataLoss
)

// Malignant reports whether this gap type requires flushing per-topic
// history (Retention and DataLoss), as opposed to Benign which does not.
func (t GapType) Malignant() bool {
	return t == GapRetention || t == GapDataLoss
}

func (t GapType) String() string {
	switch t {
	case GapBenign:
		return "benign"
	case GapRetention:
		return "retention"
	case GapDataLoss:
		return "data_loss"
	default:
		return "unknown"
	}
}

// MessageKind distinguishes the two outbound message shapes.
type MessageKind int

const (
	MessageDeliver MessageKind = iota
	MessageGap
)

// OutboundMessage is what the Tailer hands to its on-message callback,
// together with the list of CopilotSub recipients. Deliver messages carry
// Prev/Seqno/Payload; Gap messages carry GapType/From/To.
type OutboundMessage struct {
	Kind    MessageKind
	Topic   TopicUUID
	Prev    SequenceNumber
	Seqno   SequenceNumber
	Payload []byte
	GapType GapType
	From    SequenceNumber
	To      SequenceNumber
}

func deliverMessage(topic TopicUUID, prev, seqno SequenceNumber, payload []byte) OutboundMessage {
	return OutboundMessage{Kind: MessageDeliver, Topic: topic, Prev: prev, Seqno: seqno, Payload: payload}
}

func gapMessage(topic TopicUUID, gapType GapType, from, to SequenceNumber) OutboundMessage {
	return OutboundMessage{Kind: MessageGap, Topic: topic, GapType: gapType, From: from, To: to}
}
