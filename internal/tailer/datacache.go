package tailer

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedRecord is one entry held by dataCache.
type cachedRecord struct {
	topic   TopicUUID
	seqno   SequenceNumber
	payload []byte
}

// dataCache is a per-log bounded cache of recently-seen records, used to
// serve the prefix of a new subscription without rewinding a storage
// reader. Capacity 0 disables caching entirely (spec.md §4.4).
//
// Grounded on SPEC_FULL.md §9's domain-stack entry: eviction policy itself
// is delegated to github.com/hashicorp/golang-lru/v2 rather than
// hand-rolled, since that is exactly the concern the library exists for;
// the seqno-ordered VisitCache walk on top of it is the domain logic this
// package owns.
type dataCache struct {
	capacity int
	logs     map[LogID]*lru.Cache[SequenceNumber, cachedRecord]
}

func newDataCache(capacity int) *dataCache {
	return &dataCache{capacity: capacity, logs: make(map[LogID]*lru.Cache[SequenceNumber, cachedRecord])}
}

func (c *dataCache) enabled() bool { return c.capacity > 0 }

// StoreData records one record for log at seqno. A copy of payload is
// kept; the caller's slice is not retained.
func (c *dataCache) StoreData(log LogID, topic TopicUUID, seqno SequenceNumber, payload []byte) {
	if !c.enabled() {
		return
	}
	cache, ok := c.logs[log]
	if !ok {
		cache, _ = lru.New[SequenceNumber, cachedRecord](c.capacity)
		c.logs[log] = cache
	}
	cache.Add(seqno, cachedRecord{
		topic:   topic,
		seqno:   seqno,
		payload: append([]byte(nil), payload...),
	})
}

// VisitCache visits every cached record on log with seqno >= from, in
// ascending seqno order, and returns the seqno immediately past the last
// one visited (or from, unchanged, if nothing matched).
func (c *dataCache) VisitCache(log LogID, from SequenceNumber, visit func(topic TopicUUID, seqno SequenceNumber, payload []byte)) SequenceNumber {
	if !c.enabled() {
		return from
	}
	cache, ok := c.logs[log]
	if !ok {
		return from
	}
	keys := cache.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	advanced := from
	for _, seqno := range keys {
		if seqno < from {
			continue
		}
		rec, ok := cache.Peek(seqno)
		if !ok {
			continue
		}
		visit(rec.topic, rec.seqno, rec.payload)
		advanced = seqno + 1
	}
	return advanced
}

// Clear drops every cached record for every log.
func (c *dataCache) Clear() {
	c.logs = make(map[LogID]*lru.Cache[SequenceNumber, cachedRecord])
}

// SetCapacity changes the per-log capacity. Setting it to 0 disables and
// clears the cache.
func (c *dataCache) SetCapacity(n int) {
	c.capacity = n
	if n <= 0 {
		c.logs = make(map[LogID]*lru.Cache[SequenceNumber, cachedRecord])
	}
}

func (c *dataCache) GetCapacity() int { return c.capacity }

// GetUsage returns the total number of cached records across all logs.
func (c *dataCache) GetUsage() int {
	total := 0
	for _, cache := range c.logs {
		total += cache.Len()
	}
	return total
}
