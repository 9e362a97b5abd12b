package logstore

import (
	"context"
	"encoding/binary"
	"sync"

	pebblestore "github.com/rzbill/tailer/internal/storage/pebble"
	"github.com/rzbill/tailer/internal/tailer"
)

// Log provides append-only operations for one LogID. Many topics interleave
// onto the same Log; the topic travels with each record rather than being
// fixed per Log.
type Log struct {
	db    *pebblestore.DB
	logID uint64

	mu       sync.Mutex
	lastSeq  uint64
	minSeq   uint64 // oldest sequence number still retained; 0 means "nothing trimmed yet"
	notifyCh chan struct{}
}

// openLog initializes a Log and loads its last/min sequence from metadata
// (if any).
func openLog(db *pebblestore.DB, logID uint64) (*Log, error) {
	l := &Log{db: db, logID: logID, notifyCh: make(chan struct{})}
	meta, err := db.Get(keyLogMeta(logID))
	if err == nil && len(meta) >= 16 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
		l.minSeq = binary.BigEndian.Uint64(meta[8:16])
	}
	return l, nil
}

// Append writes one record and returns its assigned sequence number.
func (l *Log) Append(ctx context.Context, topic tailer.TopicUUID, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	l.lastSeq++
	seq := l.lastSeq
	val := encodeRecord(topic, payload)
	if err := b.Set(keyLogEntry(l.logID, seq), val, nil); err != nil {
		return 0, err
	}
	var meta [16]byte
	binary.BigEndian.PutUint64(meta[:8], l.lastSeq)
	binary.BigEndian.PutUint64(meta[8:16], l.minSeq)
	if err := b.Set(keyLogMeta(l.logID), meta[:], nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		l.lastSeq--
		return 0, err
	}

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seq, nil
}

// Tail reports the last assigned sequence number.
func (l *Log) Tail() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Retained reports the oldest sequence number still present (0 if nothing
// has been trimmed).
func (l *Log) Retained() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minSeq
}
