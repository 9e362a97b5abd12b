package tailer

import "testing"

func TestDataCacheDisabledWhenZeroCapacity(t *testing.T) {
	c := newDataCache(0)
	c.StoreData(LogID(1), topicA(), 1, []byte("x"))
	visited := 0
	c.VisitCache(LogID(1), 0, func(TopicUUID, SequenceNumber, []byte) { visited++ })
	if visited != 0 {
		t.Fatalf("disabled cache should never visit anything")
	}
}

func TestDataCacheStoreAndVisitInOrder(t *testing.T) {
	c := newDataCache(10)
	for seq := SequenceNumber(1); seq <= 5; seq++ {
		c.StoreData(LogID(1), topicA(), seq, []byte{byte(seq)})
	}

	var seen []SequenceNumber
	next := c.VisitCache(LogID(1), 2, func(topic TopicUUID, seqno SequenceNumber, payload []byte) {
		seen = append(seen, seqno)
	})
	want := []SequenceNumber{2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
	if next != 6 {
		t.Fatalf("next = %d, want 6", next)
	}
}

func TestDataCacheEvictionBoundsUsage(t *testing.T) {
	c := newDataCache(2)
	c.StoreData(LogID(1), topicA(), 1, []byte("a"))
	c.StoreData(LogID(1), topicA(), 2, []byte("b"))
	c.StoreData(LogID(1), topicA(), 3, []byte("c"))

	if got := c.GetUsage(); got != 2 {
		t.Fatalf("usage = %d, want 2 (capacity bound)", got)
	}
}

func TestDataCacheVisitEmptyReturnsFromUnchanged(t *testing.T) {
	c := newDataCache(10)
	next := c.VisitCache(LogID(1), 7, func(TopicUUID, SequenceNumber, []byte) {})
	if next != 7 {
		t.Fatalf("next = %d, want 7 unchanged", next)
	}
}
