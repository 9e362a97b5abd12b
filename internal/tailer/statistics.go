package tailer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// counter pairs a prometheus counter (for scraping) with a plain atomic
// value (for the synchronous GetStatistics() snapshot, which must not
// require walking prometheus's internal metric families on every admin
// request).
type counter struct {
	n    uint64
	prom prometheus.Counter
}

func newCounter(factory promauto.Factory, name string) *counter {
	return &counter{
		prom: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "topic_tailer",
			Name:      name,
		}),
	}
}

func (c *counter) Inc() {
	atomic.AddUint64(&c.n, 1)
	c.prom.Inc()
}

func (c *counter) Value() uint64 {
	return atomic.LoadUint64(&c.n)
}

// Statistics holds every counter named in
// original_source/src/controltower/topic_tailer.h's Stats struct, backed
// by github.com/prometheus/client_golang (see SPEC_FULL.md §9). Counters
// are registered against a caller-supplied *prometheus.Registry so
// multiple Tailer instances (one per worker) can share a process-wide
// /metrics endpoint without name collisions, following the promauto
// factory pattern in _examples/NethermindEth-juno/metrics/prometheus.go.
type Statistics struct {
	LogRecordsReceived             *counter
	NewTailRecordsSent             *counter
	LogRecordsWithSubscriptions    *counter
	LogRecordsWithoutSubscriptions *counter
	LogRecordsOutOfOrder           *counter
	BumpedSubscriptions            *counter
	GapRecordsReceived             *counter
	GapRecordsOutOfOrder           *counter
	GapRecordsWithSubscriptions    *counter
	GapRecordsWithoutSubscriptions *counter
	BenignGapsReceived             *counter
	MalignantGapsReceived          *counter
	AddSubscriberRequests          *counter
	AddSubscriberRequestsAt0       *counter
	AddSubscriberRequestsAt0Fast   *counter
	AddSubscriberRequestsAt0Slow   *counter
	UpdatedSubscriptions           *counter
	RemoveSubscriberRequests       *counter
}

// NewStatistics registers a fresh counter set against registry. Passing
// nil registers against a new private registry rather than
// prometheus.DefaultRegisterer, so tests never collide with global state.
func NewStatistics(registry *prometheus.Registry) *Statistics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)
	return &Statistics{
		LogRecordsReceived:             newCounter(f, "log_records_received"),
		NewTailRecordsSent:             newCounter(f, "new_tail_records_sent"),
		LogRecordsWithSubscriptions:    newCounter(f, "log_records_with_subscriptions"),
		LogRecordsWithoutSubscriptions: newCounter(f, "log_records_without_subscriptions"),
		LogRecordsOutOfOrder:           newCounter(f, "log_records_out_of_order"),
		BumpedSubscriptions:            newCounter(f, "bumped_subscriptions"),
		GapRecordsReceived:             newCounter(f, "gap_records_received"),
		GapRecordsOutOfOrder:           newCounter(f, "gap_records_out_of_order"),
		GapRecordsWithSubscriptions:    newCounter(f, "gap_records_with_subscriptions"),
		GapRecordsWithoutSubscriptions: newCounter(f, "gap_records_without_subscriptions"),
		BenignGapsReceived:             newCounter(f, "benign_gaps_received"),
		MalignantGapsReceived:          newCounter(f, "malignant_gaps_received"),
		AddSubscriberRequests:          newCounter(f, "add_subscriber_requests"),
		AddSubscriberRequestsAt0:       newCounter(f, "add_subscriber_requests_at_0"),
		AddSubscriberRequestsAt0Fast:   newCounter(f, "add_subscriber_requests_at_0_fast"),
		AddSubscriberRequestsAt0Slow:   newCounter(f, "add_subscriber_requests_at_0_slow"),
		UpdatedSubscriptions:           newCounter(f, "updated_subscriptions"),
		RemoveSubscriberRequests:       newCounter(f, "remove_subscriber_requests"),
	}
}

// StatsSnapshot is a point-in-time read of every counter, returned by
// Tailer.GetStatistics for admin/introspection use.
type StatsSnapshot struct {
	LogRecordsReceived             uint64
	NewTailRecordsSent             uint64
	LogRecordsWithSubscriptions    uint64
	LogRecordsWithoutSubscriptions uint64
	LogRecordsOutOfOrder           uint64
	BumpedSubscriptions            uint64
	GapRecordsReceived             uint64
	GapRecordsOutOfOrder           uint64
	GapRecordsWithSubscriptions    uint64
	GapRecordsWithoutSubscriptions uint64
	BenignGapsReceived             uint64
	MalignantGapsReceived          uint64
	AddSubscriberRequests          uint64
	AddSubscriberRequestsAt0       uint64
	AddSubscriberRequestsAt0Fast   uint64
	AddSubscriberRequestsAt0Slow   uint64
	UpdatedSubscriptions           uint64
	RemoveSubscriberRequests       uint64
}

func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		LogRecordsReceived:             s.LogRecordsReceived.Value(),
		NewTailRecordsSent:             s.NewTailRecordsSent.Value(),
		LogRecordsWithSubscriptions:    s.LogRecordsWithSubscriptions.Value(),
		LogRecordsWithoutSubscriptions: s.LogRecordsWithoutSubscriptions.Value(),
		LogRecordsOutOfOrder:           s.LogRecordsOutOfOrder.Value(),
		BumpedSubscriptions:            s.BumpedSubscriptions.Value(),
		GapRecordsReceived:             s.GapRecordsReceived.Value(),
		GapRecordsOutOfOrder:           s.GapRecordsOutOfOrder.Value(),
		GapRecordsWithSubscriptions:    s.GapRecordsWithSubscriptions.Value(),
		GapRecordsWithoutSubscriptions: s.GapRecordsWithoutSubscriptions.Value(),
		BenignGapsReceived:             s.BenignGapsReceived.Value(),
		MalignantGapsReceived:          s.MalignantGapsReceived.Value(),
		AddSubscriberRequests:          s.AddSubscriberRequests.Value(),
		AddSubscriberRequestsAt0:       s.AddSubscriberRequestsAt0.Value(),
		AddSubscriberRequestsAt0Fast:   s.AddSubscriberRequestsAt0Fast.Value(),
		AddSubscriberRequestsAt0Slow:   s.AddSubscriberRequestsAt0Slow.Value(),
		UpdatedSubscriptions:           s.UpdatedSubscriptions.Value(),
		RemoveSubscriberRequests:       s.RemoveSubscriberRequests.Value(),
	}
}
