package tailer

import "testing"

func TestStatisticsIncrementAndSnapshot(t *testing.T) {
	s := NewStatistics(nil)

	s.LogRecordsReceived.Inc()
	s.LogRecordsReceived.Inc()
	s.GapRecordsReceived.Inc()
	s.AddSubscriberRequests.Inc()

	snap := s.Snapshot()
	if snap.LogRecordsReceived != 2 {
		t.Fatalf("LogRecordsReceived = %d, want 2", snap.LogRecordsReceived)
	}
	if snap.GapRecordsReceived != 1 {
		t.Fatalf("GapRecordsReceived = %d, want 1", snap.GapRecordsReceived)
	}
	if snap.AddSubscriberRequests != 1 {
		t.Fatalf("AddSubscriberRequests = %d, want 1", snap.AddSubscriberRequests)
	}
	if snap.RemoveSubscriberRequests != 0 {
		t.Fatalf("RemoveSubscriberRequests = %d, want 0", snap.RemoveSubscriberRequests)
	}
}

func TestStatisticsDistinctRegistriesDoNotCollide(t *testing.T) {
	a := NewStatistics(nil)
	b := NewStatistics(nil)

	a.LogRecordsReceived.Inc()
	if b.Snapshot().LogRecordsReceived != 0 {
		t.Fatalf("second Statistics instance should start from zero")
	}
}
