package tailer

import (
	"context"
	"errors"
	"testing"
)

func topicA() TopicUUID { return TopicUUID{Namespace: "ns", Name: "a"} }
func topicB() TopicUUID { return TopicUUID{Namespace: "ns", Name: "b"} }

func TestLogReaderStartReadingFirstOpen(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()
	if err := r.StartReading(ctx, topicA(), LogID(1), 5); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	if !r.IsOpen(LogID(1)) {
		t.Fatalf("log should be open")
	}
	ls := r.logs[LogID(1)]
	if ls.lastRead != 4 {
		t.Fatalf("lastRead = %d, want 4", ls.lastRead)
	}
	ts, ok := ls.topics.Get(topicA())
	if !ok || ts.nextSeqno != 5 {
		t.Fatalf("topic state = %v %v, want nextSeqno=5", ts, ok)
	}
}

func TestLogReaderProcessRecordOrdering(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()
	r.StartReading(ctx, topicA(), LogID(1), 1)

	prev, err := r.ProcessRecord(LogID(1), 1, topicA())
	if err != nil {
		t.Fatalf("ProcessRecord: %v", err)
	}
	if prev != 1 {
		t.Fatalf("prev = %d, want 1 (the seqno the topic was started at)", prev)
	}

	prev, err = r.ProcessRecord(LogID(1), 2, topicA())
	if err != nil {
		t.Fatalf("ProcessRecord: %v", err)
	}
	if prev != 2 {
		t.Fatalf("prev = %d, want 2", prev)
	}

	_, err = r.ProcessRecord(LogID(1), 10, topicA())
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestLogReaderRewindOnEarlierSubscribe(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()
	r.StartReading(ctx, topicA(), LogID(1), 1)
	r.ProcessRecord(LogID(1), 1, topicA())
	r.ProcessRecord(LogID(1), 2, topicA())
	r.ProcessRecord(LogID(1), 3, topicA())

	// A second subscriber wants to start earlier than the reader's current
	// position: this must rewind lastRead.
	if err := r.StartReading(ctx, topicB(), LogID(1), 1); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	ls := r.logs[LogID(1)]
	if ls.lastRead != 0 {
		t.Fatalf("lastRead after rewind = %d, want 0", ls.lastRead)
	}
}

func TestLogReaderFlushHistoryOnMalignantGap(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()
	r.StartReading(ctx, topicA(), LogID(1), 1)
	r.ProcessRecord(LogID(1), 1, topicA())

	r.FlushHistory(LogID(1), 100)

	ls := r.logs[LogID(1)]
	if ls.topics.Len() != 0 {
		t.Fatalf("topics after flush = %d, want 0", ls.topics.Len())
	}
	if ls.lastRead != 99 || ls.startSeqno != 100 {
		t.Fatalf("lastRead/startSeqno = %d/%d, want 99/100", ls.lastRead, ls.startSeqno)
	}
}

func TestLogReaderBumpLaggingSubscriptions(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()
	r.StartReading(ctx, topicA(), LogID(1), 1)
	r.ProcessRecord(LogID(1), 1, topicA())
	// topicA now has nextSeqno = 2.

	var bumped []TopicUUID
	r.BumpLaggingSubscriptions(LogID(1), 200, 100, func(topic TopicUUID, lastKnown SequenceNumber) {
		bumped = append(bumped, topic)
		if lastKnown != 2 {
			t.Fatalf("lastKnown = %d, want 2", lastKnown)
		}
	})
	if len(bumped) != 1 || bumped[0] != topicA() {
		t.Fatalf("bumped = %v, want [topicA]", bumped)
	}
	ls := r.logs[LogID(1)]
	ts, _ := ls.topics.Get(topicA())
	if ts.nextSeqno != 201 {
		t.Fatalf("nextSeqno after bump = %d, want 201", ts.nextSeqno)
	}

	// Calling again immediately should not re-bump (now within lag).
	bumped = nil
	r.BumpLaggingSubscriptions(LogID(1), 200, 100, func(TopicUUID, SequenceNumber) {
		bumped = append(bumped, topicA())
	})
	if len(bumped) != 0 {
		t.Fatalf("unexpected re-bump: %v", bumped)
	}
}

func TestLogReaderSubscriptionCost(t *testing.T) {
	r := newLogReader(1, nil)
	ctx := context.Background()

	if got := r.SubscriptionCost(topicA(), LogID(1), 5); got != costStart {
		t.Fatalf("cost for unopened log = %d, want costStart", got)
	}

	r.StartReading(ctx, topicA(), LogID(1), 1)
	r.ProcessRecord(LogID(1), 1, topicA())
	// lastRead=1, topicA.nextSeqno=2

	if got := r.SubscriptionCost(topicB(), LogID(1), 10); got != 9 {
		t.Fatalf("cost when catching up = %d, want 9", got)
	}
	// seqno 2 equals topicA.nextSeqno but is still past lastRead=1, and the
	// catch-up check comes before the per-topic check.
	if got := r.SubscriptionCost(topicA(), LogID(1), 2); got != 1 {
		t.Fatalf("cost one past lastRead = %d, want 1", got)
	}
	if got := r.SubscriptionCost(topicA(), LogID(1), 0); got != costRewind {
		t.Fatalf("cost needing rewind = %d, want costRewind", got)
	}
}

func TestLogReaderMergeAndSteal(t *testing.T) {
	ctx := context.Background()
	src := newLogReader(1, &fakeLogTailer{})
	dst := newLogReader(2, &fakeLogTailer{})

	src.StartReading(ctx, topicA(), LogID(1), 1)
	dst.StartReading(ctx, topicB(), LogID(1), 1)
	src.ProcessRecord(LogID(1), 1, topicA())
	dst.ProcessRecord(LogID(1), 1, topicB())

	if !src.CanMergeInto(dst, LogID(1)) {
		t.Fatalf("expected mergeable readers at identical lastRead")
	}
	if err := src.MergeInto(ctx, dst, LogID(1)); err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if src.IsOpen(LogID(1)) {
		t.Fatalf("src should have closed log after merge")
	}
	if _, ok := dst.logs[LogID(1)].topics.Get(topicA()); !ok {
		t.Fatalf("dst should have absorbed topicA")
	}

	virtual := newLogReader(3, nil)
	virtual.StartReading(ctx, TopicUUID{Namespace: "ns", Name: "c"}, LogID(1), 1)
	if err := src.StealLogSubscriptions(ctx, virtual, LogID(1)); err != nil {
		t.Fatalf("StealLogSubscriptions: %v", err)
	}
	if virtual.IsOpen(LogID(1)) {
		t.Fatalf("virtual reader should no longer hold log after steal")
	}
	if !src.IsOpen(LogID(1)) {
		t.Fatalf("src should have adopted the stolen log")
	}
}

type fakeLogTailer struct {
	startCalls int
	stopCalls  int
}

func (f *fakeLogTailer) StartReading(ctx context.Context, log LogID, seqno SequenceNumber, readerID uint64, firstOpen bool) error {
	f.startCalls++
	return nil
}

func (f *fakeLogTailer) StopReading(ctx context.Context, log LogID, readerID uint64) error {
	f.stopCalls++
	return nil
}

func (f *fakeLogTailer) FindLatestSeqno(ctx context.Context, log LogID, cb func(SequenceNumber, error)) {
	cb(0, nil)
}

func (f *fakeLogTailer) CanSubscribePastEnd() bool { return false }
