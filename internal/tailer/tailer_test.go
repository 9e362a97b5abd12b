package tailer

import (
	"context"
	"sync"
	"testing"
)

// fakeRouter maps every topic to the same log unless overridden.
type fakeRouter struct {
	mu   sync.Mutex
	logs map[TopicUUID]LogID
}

func newFakeRouter(defaultLog LogID, topics ...TopicUUID) *fakeRouter {
	r := &fakeRouter{logs: make(map[TopicUUID]LogID)}
	for _, tp := range topics {
		r.logs[tp] = defaultLog
	}
	return r
}

func (r *fakeRouter) GetLogID(topic TopicUUID) (LogID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.logs[topic]; ok {
		return id, nil
	}
	return 0, ErrNotFound
}

type startCall struct {
	log      LogID
	readerID uint64
	seqno    SequenceNumber
}

type stopCall struct {
	log      LogID
	readerID uint64
}

// recordingStorage is a LogTailer that just counts calls; tests drive
// processLogRecord/processGapRecord directly rather than going through
// SendLogRecord/the forward queue, so the room loop stays out of the
// picture and every assertion runs on the single test goroutine.
type recordingStorage struct {
	mu          sync.Mutex
	started     []startCall
	stopped     []stopCall
	latestSeqno SequenceNumber
	latestErr   error
	canPastEnd  bool
}

func (s *recordingStorage) StartReading(_ context.Context, log LogID, seqno SequenceNumber, readerID uint64, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, startCall{log: log, readerID: readerID, seqno: seqno})
	return nil
}

func (s *recordingStorage) StopReading(_ context.Context, log LogID, readerID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, stopCall{log: log, readerID: readerID})
	return nil
}

func (s *recordingStorage) FindLatestSeqno(_ context.Context, _ LogID, cb func(SequenceNumber, error)) {
	cb(s.latestSeqno, s.latestErr)
}

func (s *recordingStorage) CanSubscribePastEnd() bool { return s.canPastEnd }

func newTestTailer(t *testing.T, storage LogTailer, router LogRouter) *Tailer {
	t.Helper()
	tl, err := NewTailer(Config{
		Router:            router,
		Storage:           storage,
		OnMessage:         func(OutboundMessage, []CopilotSub) {},
		ReaderIDs:         []uint64{1, 2},
		CacheCapacity:     16,
		ForwardQueueDepth: 64,
	})
	if err != nil {
		t.Fatalf("NewTailer: %v", err)
	}
	return tl
}

func TestTailerSimpleDeliver(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	var delivered []OutboundMessage
	var recipients []CopilotSub
	tl.onMessage = func(msg OutboundMessage, rs []CopilotSub) {
		delivered = append(delivered, msg)
		recipients = append(recipients, rs...)
	}

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topic, 5, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	tl.processLogRecord(LogID(1), 1, topic, 5, []byte("hello"))

	if len(delivered) != 1 || string(delivered[0].Payload) != "hello" {
		t.Fatalf("delivered = %v, want one message with payload hello", delivered)
	}
	if len(recipients) != 1 || recipients[0] != sub {
		t.Fatalf("recipients = %v, want [%v]", recipients, sub)
	}
}

// TestTailerEarlierSubscribeOpensAnotherReader covers the case where a new
// subscription starts earlier than a reader already committed to for the
// same topic: with a spare reader available, readerForNewSubscription picks
// it instead of forcing the busy reader to rewind.
func TestTailerEarlierSubscribeOpensAnotherReader(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	subA := CopilotSub{StreamID: 1, SubID: 1}
	subB := CopilotSub{StreamID: 1, SubID: 2}
	if err := tl.AddSubscriber(context.Background(), topic, 10, subA); err != nil {
		t.Fatalf("AddSubscriber A: %v", err)
	}
	if err := tl.AddSubscriber(context.Background(), topic, 3, subB); err != nil {
		t.Fatalf("AddSubscriber B: %v", err)
	}

	storage.mu.Lock()
	defer storage.mu.Unlock()
	if len(storage.started) < 2 {
		t.Fatalf("expected at least 2 StartReading calls, got %d", len(storage.started))
	}
	last := storage.started[len(storage.started)-1]
	if last.seqno != 3 {
		t.Fatalf("subscriber B should have opened a reader at seqno 3, got %d", last.seqno)
	}
}

// TestTailerMergeOpportunity drives two readers to the same log position by
// hand (bypassing readerForNewSubscription's cost-based picker, which would
// naturally route both topics to the same idle reader) to exercise
// AttemptReaderMerges/CanMergeInto/MergeInto directly.
func TestTailerMergeOpportunity(t *testing.T) {
	topic, topic2 := topicA(), topicB()
	router := newFakeRouter(LogID(1), topic, topic2)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)
	ctx := context.Background()

	r1, r2 := tl.readers[1], tl.readers[2]
	if err := r1.StartReading(ctx, topic, LogID(1), 1); err != nil {
		t.Fatalf("r1.StartReading: %v", err)
	}
	if err := r2.StartReading(ctx, topic2, LogID(1), 1); err != nil {
		t.Fatalf("r2.StartReading: %v", err)
	}
	if _, err := r1.ProcessRecord(LogID(1), 1, topic); err != nil {
		t.Fatalf("r1.ProcessRecord: %v", err)
	}
	if _, err := r2.ProcessRecord(LogID(1), 1, topic2); err != nil {
		t.Fatalf("r2.ProcessRecord: %v", err)
	}

	if err := tl.AttemptReaderMerges(ctx, LogID(1)); err != nil {
		t.Fatalf("AttemptReaderMerges: %v", err)
	}
	open := 0
	for _, id := range tl.readerOrder {
		if tl.readers[id].IsOpen(LogID(1)) {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one reader open on log 1 after merge, got %d", open)
	}
}

func TestTailerBumpLaggingSubscriptions(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)
	tl.maxSubscriptionLag = 5

	var bumped []OutboundMessage
	tl.onMessage = func(msg OutboundMessage, _ []CopilotSub) {
		if msg.Kind == MessageGap {
			bumped = append(bumped, msg)
		}
	}

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topic, 1, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	tl.processLogRecord(LogID(1), 1, topic, 1, []byte("a"))
	tl.tailEstimate[LogID(1)] = 1000
	tl.BumpLaggingSubscriptions()

	if len(bumped) != 1 || bumped[0].Kind != MessageGap {
		t.Fatalf("bumped = %v, want one gap message", bumped)
	}
}

func TestTailerAddTailSubscriberFastPath(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{canPastEnd: true}
	tl := newTestTailer(t, storage, router)
	tl.tailEstimate[LogID(1)] = 9

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topic, 0, sub); err != nil {
		t.Fatalf("AddSubscriber(tail): %v", err)
	}

	if got := tl.GetStatistics().AddSubscriberRequestsAt0Fast; got != 1 {
		t.Fatalf("AddSubscriberRequestsAt0Fast = %d, want 1", got)
	}
	if !tl.streams.Live(sub) {
		t.Fatalf("sub should be live after fast tail subscribe")
	}
}

func TestTailerAddTailSubscriberSlowPath(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{canPastEnd: false, latestSeqno: 40}
	tl := newTestTailer(t, storage, router)

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topic, 0, sub); err != nil {
		t.Fatalf("AddSubscriber(tail): %v", err)
	}

	if got := tl.GetStatistics().AddSubscriberRequestsAt0Slow; got != 1 {
		t.Fatalf("AddSubscriberRequestsAt0Slow = %d, want 1", got)
	}
	if !tl.streams.Live(sub) {
		t.Fatalf("sub should be live once FindLatestSeqno resolves")
	}
}

func TestTailerMalignantGapFlushesHistory(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	var gaps []OutboundMessage
	tl.onMessage = func(msg OutboundMessage, _ []CopilotSub) {
		if msg.Kind == MessageGap {
			gaps = append(gaps, msg)
		}
	}

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topic, 1, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	tl.processGapRecord(LogID(1), 1, GapRetention, 1, 100)

	if len(gaps) != 1 || gaps[0].GapType != GapRetention {
		t.Fatalf("gaps = %v, want one retention gap", gaps)
	}
	r := tl.readers[1]
	ls, ok := r.logs[LogID(1)]
	if !ok {
		t.Fatalf("log 1 should still be open on reader 1 after a malignant gap")
	}
	if ls.topics.Len() != 0 {
		t.Fatalf("malignant gap should have flushed per-topic history, got %d topics", ls.topics.Len())
	}
}

func TestTailerRemoveSubscriberStopsReading(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	sub := CopilotSub{StreamID: 1, SubID: 1}
	ctx := context.Background()
	if err := tl.AddSubscriber(ctx, topic, 1, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if err := tl.RemoveSubscriber(ctx, sub); err != nil {
		t.Fatalf("RemoveSubscriber: %v", err)
	}

	if tl.topics.HasSubscribers(topic) {
		t.Fatalf("topic should have no subscribers left")
	}
	storage.mu.Lock()
	defer storage.mu.Unlock()
	if len(storage.stopped) == 0 {
		t.Fatalf("expected StopReading to be called on the underlying storage")
	}
}

// TestTailerBenignGapNotifiesEveryTopic covers a reader tracking two topics
// on the same log: a single benign gap must notify each topic's own
// subscribers individually, not just whichever topic happened to be named
// in the gap (storage reports gaps log-wide, with no topic of its own).
func TestTailerBenignGapNotifiesEveryTopic(t *testing.T) {
	topicX, topicY := topicA(), topicB()
	router := newFakeRouter(LogID(1), topicX, topicY)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	var gaps []OutboundMessage
	tl.onMessage = func(msg OutboundMessage, _ []CopilotSub) {
		if msg.Kind == MessageGap {
			gaps = append(gaps, msg)
		}
	}

	subX := CopilotSub{StreamID: 1, SubID: 1}
	subY := CopilotSub{StreamID: 1, SubID: 2}
	if err := tl.AddSubscriber(context.Background(), topicX, 1, subX); err != nil {
		t.Fatalf("AddSubscriber X: %v", err)
	}
	if err := tl.AddSubscriber(context.Background(), topicY, 1, subY); err != nil {
		t.Fatalf("AddSubscriber Y: %v", err)
	}

	r := tl.readers[1]
	ls, ok := r.logs[LogID(1)]
	if !ok || ls.topics.Len() != 2 {
		t.Fatalf("expected both subscriptions to land on reader 1 tracking 2 topics")
	}

	tl.processGapRecord(LogID(1), 1, GapBenign, 1, 50)

	if len(gaps) != 2 {
		t.Fatalf("gaps = %v, want one benign gap per topic", gaps)
	}
	seen := map[TopicUUID]bool{}
	for _, g := range gaps {
		if g.GapType != GapBenign || g.From != 1 || g.To != 50 {
			t.Fatalf("gap = %+v, want benign [1,50]", g)
		}
		seen[g.Topic] = true
	}
	if !seen[topicX] || !seen[topicY] {
		t.Fatalf("expected a gap for both topics, got %v", gaps)
	}
}

// TestTailerReaderForNewSubscriptionSingleReader covers the single-physical-
// reader deployment: a rewind is unavoidable, so the sole reader must be
// returned directly rather than falling through to the virtual reader
// (which, with only one physical reader, could never have its parked state
// stolen back).
func TestTailerReaderForNewSubscriptionSingleReader(t *testing.T) {
	topic := topicA()
	router := newFakeRouter(LogID(1), topic)
	storage := &recordingStorage{}
	tl, err := NewTailer(Config{
		Router:            router,
		Storage:           storage,
		OnMessage:         func(OutboundMessage, []CopilotSub) {},
		ReaderIDs:         []uint64{1},
		CacheCapacity:     16,
		ForwardQueueDepth: 64,
	})
	if err != nil {
		t.Fatalf("NewTailer: %v", err)
	}

	ctx := context.Background()
	r := tl.readers[1]
	if err := r.StartReading(ctx, topic, LogID(1), 10); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	if _, err := r.ProcessRecord(LogID(1), 10, topic); err != nil {
		t.Fatalf("ProcessRecord: %v", err)
	}

	if cost := r.SubscriptionCost(topic, LogID(1), 1); cost != costRewind {
		t.Fatalf("expected the sole reader's cost to be costRewind, got %d", cost)
	}
	if got := tl.readerForNewSubscription(topic, LogID(1), 1); got != r {
		t.Fatalf("expected the sole physical reader to be returned even when it must rewind")
	}
}

// TestTailerDeliverFromCacheBridgesAcrossOtherTopics covers a log whose
// cache holds records for more than one topic: a subscription on one topic
// must bridge past the whole cached range, not just its own topic's last
// matching record, so the reader it opens afterward does not re-read
// (and the subscriber does not see twice) data already served from cache.
func TestTailerDeliverFromCacheBridgesAcrossOtherTopics(t *testing.T) {
	topicX, topicY := topicA(), topicB()
	router := newFakeRouter(LogID(1), topicX, topicY)
	storage := &recordingStorage{}
	tl := newTestTailer(t, storage, router)

	tl.cache.StoreData(LogID(1), topicX, 5, []byte("x5"))
	tl.cache.StoreData(LogID(1), topicY, 6, []byte("y6"))

	var delivered, gaps []OutboundMessage
	tl.onMessage = func(msg OutboundMessage, _ []CopilotSub) {
		switch msg.Kind {
		case MessageDeliver:
			delivered = append(delivered, msg)
		case MessageGap:
			gaps = append(gaps, msg)
		}
	}

	sub := CopilotSub{StreamID: 1, SubID: 1}
	if err := tl.AddSubscriber(context.Background(), topicX, 5, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	if len(delivered) != 1 || string(delivered[0].Payload) != "x5" {
		t.Fatalf("delivered = %v, want the one cached record matching topicX", delivered)
	}
	if len(gaps) != 1 || gaps[0].From != 5 || gaps[0].To != 6 {
		t.Fatalf("gaps = %+v, want a bridging gap [5,6]", gaps)
	}

	storage.mu.Lock()
	last := storage.started[len(storage.started)-1]
	storage.mu.Unlock()
	if last.seqno != 7 {
		t.Fatalf("StartReading seqno = %d, want the cache-bridged 7, not the raw subscribe seqno 5", last.seqno)
	}

	var readerID uint64
	for _, id := range tl.readerOrder {
		if tl.readers[id].IsOpen(LogID(1)) {
			readerID = id
			break
		}
	}
	if readerID == 0 {
		t.Fatalf("expected a reader to be open on log 1")
	}
	tl.processLogRecord(LogID(1), readerID, topicX, 7, []byte("x7"))
	if len(delivered) != 2 || string(delivered[1].Payload) != "x7" {
		t.Fatalf("delivered = %v, want the bridged-position record to reach the subscriber", delivered)
	}
}
