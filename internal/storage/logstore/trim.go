package logstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"
)

// TrimOlderThan deletes up to batchLimit*N entries with seq < cutoff and
// advances the log's retained watermark (Retained) to cutoff. A tailing
// reader positioned before cutoff will observe a retention gap the next
// time it advances (see readLoop in store.go).
func (l *Log) TrimOlderThan(ctx context.Context, cutoff uint64, batchLimit int, throttle time.Duration) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}

	low, high := entryBounds(l.logID)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			seq := seqFromEntryKey(iter.Key())
			if seq >= cutoff {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		l.mu.Lock()
		if cutoff > l.minSeq {
			l.minSeq = cutoff
		}
		l.mu.Unlock()
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, nil
}

func seqFromEntryKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
