package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/tailer/internal/storage/pebble"
	"github.com/rzbill/tailer/internal/tailer"
)

// pollInterval bounds how long a tailing goroutine blocks in waitForAppend
// before re-checking for a stop request.
const pollInterval = 500 * time.Millisecond

// Sink is the subset of *tailer.Tailer the store needs to push records and
// gaps onto. Kept as an interface so tests can substitute a recorder.
type Sink interface {
	SendLogRecord(logID tailer.LogID, readerID uint64, topic tailer.TopicUUID, seqno tailer.SequenceNumber, payload []byte) error
	SendGapRecord(logID tailer.LogID, readerID uint64, gapType tailer.GapType, from, to tailer.SequenceNumber) error
}

// Store is the Pebble-backed tailer.LogTailer implementation: it owns one
// Log per LogID and one tailing goroutine per (LogID, readerID) pair that
// StartReading has opened.
type Store struct {
	db   *pebblestore.DB
	sink Sink

	mu      sync.Mutex
	logs    map[tailer.LogID]*Log
	readers map[readerKey]*tailingReader
}

type readerKey struct {
	logID    tailer.LogID
	readerID uint64
}

type tailingReader struct {
	stop chan struct{}
	done chan struct{}
}

// New opens a Store over db. sink is wired in afterward via Attach, since
// the Tailer that owns the Store typically needs the Store to construct its
// Config.Storage before the Tailer itself exists.
func New(db *pebblestore.DB) *Store {
	return &Store{
		db:      db,
		logs:    make(map[tailer.LogID]*Log),
		readers: make(map[readerKey]*tailingReader),
	}
}

// Attach wires the Tailer this store delivers records and gaps to. Must be
// called exactly once, before StartReading is first called.
func (s *Store) Attach(sink Sink) {
	s.sink = sink
}

func (s *Store) logFor(logID tailer.LogID) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[logID]; ok {
		return l, nil
	}
	l, err := openLog(s.db, uint64(logID))
	if err != nil {
		return nil, err
	}
	s.logs[logID] = l
	return l, nil
}

// Append writes payload under topic onto logID and returns its assigned
// sequence number. Exposed for whatever ingests records into the Tailer's
// storage layer (e.g. a publish RPC); the Tailer itself never calls this.
func (s *Store) Append(ctx context.Context, logID tailer.LogID, topic tailer.TopicUUID, payload []byte) (tailer.SequenceNumber, error) {
	l, err := s.logFor(logID)
	if err != nil {
		return 0, err
	}
	seq, err := l.Append(ctx, topic, payload)
	return tailer.SequenceNumber(seq), err
}

// StartReading implements tailer.LogTailer.
func (s *Store) StartReading(ctx context.Context, logID tailer.LogID, seqno tailer.SequenceNumber, readerID uint64, _ bool) error {
	l, err := s.logFor(logID)
	if err != nil {
		return err
	}

	key := readerKey{logID: logID, readerID: readerID}
	s.mu.Lock()
	if existing, ok := s.readers[key]; ok {
		close(existing.stop)
		<-existing.done
	}
	tr := &tailingReader{stop: make(chan struct{}), done: make(chan struct{})}
	s.readers[key] = tr
	s.mu.Unlock()

	go s.readLoop(l, logID, readerID, seqno, tr)
	return nil
}

// StopReading implements tailer.LogTailer.
func (s *Store) StopReading(_ context.Context, logID tailer.LogID, readerID uint64) error {
	key := readerKey{logID: logID, readerID: readerID}
	s.mu.Lock()
	tr, ok := s.readers[key]
	delete(s.readers, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	close(tr.stop)
	<-tr.done
	return nil
}

// FindLatestSeqno implements tailer.LogTailer. The callback runs on its own
// goroutine, matching the interface's "arbitrary goroutine" contract.
func (s *Store) FindLatestSeqno(_ context.Context, logID tailer.LogID, cb func(tailer.SequenceNumber, error)) {
	go func() {
		l, err := s.logFor(logID)
		if err != nil {
			cb(0, err)
			return
		}
		cb(tailer.SequenceNumber(l.Tail()), nil)
	}()
}

// CanSubscribePastEnd implements tailer.LogTailer. StartReading at
// tail+1 is always valid here: the reader just waits for the next append.
func (s *Store) CanSubscribePastEnd() bool { return true }

// readLoop is the body of one (logID, readerID) tailing goroutine. It seeks
// to next, and on each iteration either delivers the record it finds,
// reports a retention gap if next has already been trimmed, or waits for
// the next append.
func (s *Store) readLoop(l *Log, logID tailer.LogID, readerID uint64, next tailer.SequenceNumber, tr *tailingReader) {
	defer close(tr.done)

	for {
		select {
		case <-tr.stop:
			return
		default:
		}

		if retained := l.Retained(); retained > uint64(next) {
			gapTo := tailer.SequenceNumber(retained) - 1
			if err := s.sink.SendGapRecord(logID, readerID, tailer.GapRetention, next, gapTo); err != nil {
				time.Sleep(pollInterval)
				continue
			}
			next = tailer.SequenceNumber(retained)
			continue
		}

		item, ok, err := s.seek(logID, next)
		if err != nil {
			time.Sleep(pollInterval)
			continue
		}
		if !ok {
			l.waitForAppend(pollInterval)
			continue
		}

		if err := s.sink.SendLogRecord(logID, readerID, item.Topic, tailer.SequenceNumber(item.seq), item.Payload); err != nil {
			// backpressure: retry the same record rather than skip it.
			time.Sleep(pollInterval)
			continue
		}
		next = tailer.SequenceNumber(item.seq) + 1
	}
}

type seekResult struct {
	decoded
	seq uint64
}

func (s *Store) seek(logID tailer.LogID, from tailer.SequenceNumber) (seekResult, bool, error) {
	low, high := entryBounds(uint64(logID))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return seekResult{}, false, err
	}
	defer iter.Close()

	key := keyLogEntry(uint64(logID), uint64(from))
	if !iter.SeekGE(key) {
		return seekResult{}, false, nil
	}
	seq := seqFromEntryKey(iter.Key())
	dec, ok := decodeRecord(iter.Value())
	if !ok {
		return seekResult{}, false, nil
	}
	return seekResult{decoded: dec, seq: seq}, true, nil
}
