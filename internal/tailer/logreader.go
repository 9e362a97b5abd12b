package tailer

import (
	"context"
	"math"
)

// Cost heuristics used by ReaderForNewSubscription (see tailer.go). A
// reader that hasn't opened a log at all is mildly discouraged in favor of
// readers already nearby; a reader that would need to rewind past data it
// has already discarded is maximally discouraged.
const (
	costStart  = uint64(1000)
	costRewind = uint64(math.MaxUint64)
)

// topicState is the per-topic memory a LogReader keeps about one topic on
// one log: the next seqno expected for that topic, plus one.
type topicState struct {
	nextSeqno SequenceNumber
}

// logState is the per-log memory a LogReader keeps: its position on the
// log plus per-topic state, ordered least-recently-seen to
// most-recently-seen.
type logState struct {
	startSeqno SequenceNumber
	lastRead   SequenceNumber
	tailSeqno  SequenceNumber
	topics     *LinkedMap[TopicUUID, *topicState]
}

// logReader is one position into the log space: either physical (backed by
// a real storage reader identified by id) or virtual (storage is nil). A
// virtual reader parks subscriptions with no underlying storage cursor
// until a physical reader steals them (see StealLogSubscriptions).
//
// Grounded on original_source/src/controltower/topic_tailer.cc's private
// LogReader class. The tagged-variant-over-inheritance modeling is
// SPEC_FULL.md §9's design note: physical-vs-virtual is a bool plus a
// possibly-nil storage handle on one concrete type, not two types behind
// an interface.
type logReader struct {
	id       uint64
	physical bool
	storage  LogTailer
	logs     map[LogID]*logState
}

func newLogReader(id uint64, storage LogTailer) *logReader {
	return &logReader{
		id:       id,
		physical: storage != nil,
		storage:  storage,
		logs:     make(map[LogID]*logState),
	}
}

// StartReading ensures log is open on this reader at a position no later
// than seqno, rewinding the underlying storage reader if necessary, and
// records that topic is interested starting at seqno.
func (r *logReader) StartReading(ctx context.Context, topic TopicUUID, log LogID, seqno SequenceNumber) error {
	ls, open := r.logs[log]
	if !open {
		ls = &logState{
			startSeqno: seqno,
			lastRead:   seqno - 1,
			topics:     NewLinkedMap[TopicUUID, *topicState](),
		}
		r.logs[log] = ls
		if r.physical {
			if err := r.storage.StartReading(ctx, log, seqno, r.id, true); err != nil {
				return err
			}
		}
	} else if seqno <= ls.lastRead {
		if r.physical {
			if err := r.storage.StartReading(ctx, log, seqno, r.id, false); err != nil {
				return err
			}
		}
		ls.lastRead = seqno - 1
	}

	if existing, ok := ls.topics.Get(topic); ok {
		if seqno < existing.nextSeqno {
			existing.nextSeqno = seqno
		}
		ls.topics.MoveToFront(topic)
	} else {
		ls.topics.PushFront(topic, &topicState{nextSeqno: seqno})
	}

	if seqno < ls.startSeqno {
		ls.startSeqno = seqno
	}
	return nil
}

// StopReading removes topic's interest in log on this reader. If that was
// the last topic on log, the log is closed and, for a physical reader,
// storage.StopReading is called.
func (r *logReader) StopReading(ctx context.Context, topic TopicUUID, log LogID) error {
	ls, ok := r.logs[log]
	if !ok {
		return ErrNotFound
	}
	ls.topics.Delete(topic)
	if ls.topics.Len() == 0 {
		delete(r.logs, log)
		if r.physical {
			return r.storage.StopReading(ctx, log, r.id)
		}
	}
	return nil
}

// IsOpen reports whether this reader has log open at all.
func (r *logReader) IsOpen(log LogID) bool {
	_, ok := r.logs[log]
	return ok
}

// ProcessRecord advances this reader's position on log to seqno and
// returns the topic's previously-known next seqno (0 if none). It fails
// with ErrOutOfOrder unless seqno == lastRead+1, and ErrNotFound if log is
// not open on this reader.
func (r *logReader) ProcessRecord(log LogID, seqno SequenceNumber, topic TopicUUID) (SequenceNumber, error) {
	ls, ok := r.logs[log]
	if !ok {
		return 0, ErrNotFound
	}
	if seqno != ls.lastRead+1 {
		return 0, ErrOutOfOrder
	}
	ls.lastRead = seqno
	if ts, ok := ls.topics.Get(topic); ok {
		prev := ts.nextSeqno
		ts.nextSeqno = seqno + 1
		ls.topics.MoveToBack(topic)
		return prev, nil
	}
	return 0, nil
}

// ValidateGap reports ErrOutOfOrder unless from == lastRead+1.
func (r *logReader) ValidateGap(log LogID, from SequenceNumber) error {
	ls, ok := r.logs[log]
	if !ok {
		return ErrNotFound
	}
	if from != ls.lastRead+1 {
		return ErrOutOfOrder
	}
	return nil
}

// ProcessGap is ProcessRecord's counterpart for a [from,to] gap range
// covering every topic this reader tracks on log, not just one: storage
// reports gaps log-wide, with no single topic of its own. It advances
// lastRead to to and returns each affected topic's previously-known next
// seqno, keyed by topic, so the caller can notify every topic's
// subscribers individually (a log with no tracked topics yet returns a nil
// map, not an error).
func (r *logReader) ProcessGap(log LogID, from, to SequenceNumber) (map[TopicUUID]SequenceNumber, error) {
	if err := r.ValidateGap(log, from); err != nil {
		return nil, err
	}
	ls := r.logs[log]
	ls.lastRead = to
	if ls.topics.Len() == 0 {
		return nil, nil
	}
	var topics []TopicUUID
	ls.topics.Range(func(topic TopicUUID, _ *topicState) bool {
		topics = append(topics, topic)
		return true
	})
	prevs := make(map[TopicUUID]SequenceNumber, len(topics))
	for _, topic := range topics {
		ts, _ := ls.topics.Get(topic)
		prevs[topic] = ts.nextSeqno
		ts.nextSeqno = to + 1
		ls.topics.MoveToBack(topic)
	}
	return prevs, nil
}

// FlushHistory drops all per-topic memory for log and resets its position
// to seqno. Called on a malignant (retention/data-loss) gap: the reader
// must not claim knowledge of topic state it can no longer back up.
func (r *logReader) FlushHistory(log LogID, seqno SequenceNumber) {
	ls, ok := r.logs[log]
	if !ok {
		return
	}
	ls.topics.Clear()
	ls.startSeqno = seqno
	ls.lastRead = seqno - 1
}

// SetTailSeqno records the best current tail estimate for log, for
// admin/introspection purposes.
func (r *logReader) SetTailSeqno(log LogID, seqno SequenceNumber) {
	if ls, ok := r.logs[log]; ok && seqno > ls.tailSeqno {
		ls.tailSeqno = seqno
	}
}

// BumpLaggingSubscriptions advances any topic on log whose next_seqno has
// fallen more than maxLag behind currentSeqno, invoking onBump with the
// topic and its last-known seqno before the bump. Bounds per-topic
// staleness (spec.md §8 invariant 6).
func (r *logReader) BumpLaggingSubscriptions(log LogID, currentSeqno SequenceNumber, maxLag uint64, onBump func(topic TopicUUID, lastKnown SequenceNumber)) {
	ls, ok := r.logs[log]
	if !ok {
		return
	}
	for {
		topic, ts, ok := ls.topics.Front()
		if !ok {
			return
		}
		if uint64(ts.nextSeqno)+maxLag >= uint64(currentSeqno) {
			return
		}
		lastKnown := ts.nextSeqno
		onBump(topic, lastKnown)
		ts.nextSeqno = currentSeqno + 1
		ls.topics.MoveToBack(topic)
	}
}

// SubscriptionCost estimates how expensive it would be for this reader to
// serve a new subscription on topic/log starting at seqno. Lower is
// better; costRewind means "this reader would have to rewind past data it
// has already discarded for this topic", which ReaderForNewSubscription
// treats as disqualifying.
func (r *logReader) SubscriptionCost(topic TopicUUID, log LogID, seqno SequenceNumber) uint64 {
	ls, ok := r.logs[log]
	if !ok {
		return costStart
	}
	if ls.lastRead < seqno {
		return uint64(seqno - ls.lastRead)
	}
	ts, ok := ls.topics.Get(topic)
	if !ok {
		return costRewind
	}
	if seqno >= ts.nextSeqno {
		return 0
	}
	return costRewind
}

// CanMergeInto reports whether this reader's position on log is
// identical to other's, making a merge safe (no data would be skipped or
// duplicated for any topic held by either reader).
func (r *logReader) CanMergeInto(other *logReader, log LogID) bool {
	if !r.physical || !other.physical {
		return false
	}
	rls, ok := r.logs[log]
	if !ok {
		return false
	}
	ols, ok := other.logs[log]
	if !ok {
		return false
	}
	return rls.lastRead == ols.lastRead
}

// MergeInto folds this reader's topic state for log into other's (taking
// the minimum next_seqno for any topic known to both), then closes this
// reader's position on log, releasing its underlying storage cursor.
func (r *logReader) MergeInto(ctx context.Context, other *logReader, log LogID) error {
	rls, ok := r.logs[log]
	if !ok {
		return ErrNotFound
	}
	ols, ok := other.logs[log]
	if !ok {
		return ErrNotFound
	}
	rls.topics.Range(func(topic TopicUUID, ts *topicState) bool {
		if existing, ok := ols.topics.Get(topic); ok {
			if ts.nextSeqno < existing.nextSeqno {
				existing.nextSeqno = ts.nextSeqno
			}
		} else {
			ols.topics.PushBack(topic, &topicState{nextSeqno: ts.nextSeqno})
		}
		return true
	})
	delete(r.logs, log)
	if r.physical {
		return r.storage.StopReading(ctx, log, r.id)
	}
	return nil
}

// StealLogSubscriptions adopts virtual's entire open LogState for log onto
// this (physical) reader, starting underlying storage reading from
// virtual's start_seqno. Used to hand parked subscriptions to a physical
// reader once a merge frees up reader capacity.
func (r *logReader) StealLogSubscriptions(ctx context.Context, virtual *logReader, log LogID) error {
	vls, ok := virtual.logs[log]
	if !ok {
		return ErrNotFound
	}
	if r.physical {
		if err := r.storage.StartReading(ctx, log, vls.startSeqno, r.id, true); err != nil {
			return err
		}
	}
	r.logs[log] = vls
	delete(virtual.logs, log)
	return nil
}
