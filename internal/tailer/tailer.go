package tailer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/rzbill/tailer/pkg/log"
)

// Config supplies a Tailer's dependencies and tunables. Storage, Router,
// OnMessage and at least one ReaderIDs entry are required; everything else
// has a usable default.
type Config struct {
	Logger  log.Logger
	Router  LogRouter
	Storage LogTailer

	// OnMessage is invoked on the room loop for every record or gap that has
	// at least one matching recipient.
	OnMessage func(msg OutboundMessage, recipients []CopilotSub)

	Statistics *Statistics

	// ReaderIDs are the physical reader identities this Tailer manages. Reader
	// id 0 is reserved for the virtual (unbacked) reader and must not appear
	// here.
	ReaderIDs []uint64

	CacheCapacity      int
	ForwardQueueDepth  int
	MaxSubscriptionLag uint64

	// FaultSendLogRecordFailureRate, in [0,1], makes SendLogRecord randomly
	// report ErrNoBuffer to exercise caller retry paths. Zero disables it.
	FaultSendLogRecordFailureRate float64
}

// Tailer is the coordinator described in SPEC_FULL.md §4 and §5: a small
// pool of LogReaders plus one virtual reader, a TopicManager, a DataCache, a
// StreamSubscriptions index and a forwardQueue feeding a single room loop.
//
// Every exported method documents whether it must run on the room loop
// (the goroutine running Run) or is safe to call from any goroutine. The
// SendLogRecord/SendGapRecord/Forward/GetStatistics methods are the only
// entry points safe for other goroutines; everything else assumes the
// caller is already on the room loop.
type Tailer struct {
	logger    log.Logger
	router    LogRouter
	storage   LogTailer
	onMessage func(msg OutboundMessage, recipients []CopilotSub)

	topics  *topicManager
	cache   *dataCache
	streams *streamSubscriptions
	queue   *forwardQueue
	stats   *Statistics

	readers     map[uint64]*logReader
	readerOrder []uint64
	virtual     *logReader

	maxSubscriptionLag uint64
	tailEstimate       map[LogID]SequenceNumber

	faultRate float64
	randFloat func() float64
}

// virtualReaderID is reserved: it never appears in Config.ReaderIDs.
const virtualReaderID = 0

// NewTailer constructs a Tailer ready to Run. There is no separate
// two-phase Initialize step: a Tailer that fails to construct is never
// handed to a caller, following this package's "keep HOW, replace WHAT"
// constructor-does-the-work convention rather than the original's
// construct-then-Initialize split.
func NewTailer(cfg Config) (*Tailer, error) {
	if cfg.Router == nil || cfg.Storage == nil || cfg.OnMessage == nil {
		return nil, fmt.Errorf("%w: Router, Storage and OnMessage are required", ErrInternal)
	}
	if len(cfg.ReaderIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one physical reader id required", ErrInternal)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	stats := cfg.Statistics
	if stats == nil {
		stats = NewStatistics(nil)
	}

	t := &Tailer{
		logger:              logger.WithComponent("tailer"),
		router:              cfg.Router,
		storage:             cfg.Storage,
		onMessage:           cfg.OnMessage,
		topics:              newTopicManager(),
		cache:               newDataCache(cfg.CacheCapacity),
		streams:             newStreamSubscriptions(),
		queue:               newForwardQueue(cfg.ForwardQueueDepth),
		stats:               stats,
		readers:             make(map[uint64]*logReader, len(cfg.ReaderIDs)),
		virtual:             newLogReader(virtualReaderID, nil),
		maxSubscriptionLag:  cfg.MaxSubscriptionLag,
		tailEstimate:        make(map[LogID]SequenceNumber),
		faultRate:           cfg.FaultSendLogRecordFailureRate,
		randFloat:           rand.Float64,
	}
	for _, id := range cfg.ReaderIDs {
		if id == virtualReaderID {
			return nil, fmt.Errorf("%w: reader id 0 is reserved for the virtual reader", ErrInternal)
		}
		t.readers[id] = newLogReader(id, cfg.Storage)
		t.readerOrder = append(t.readerOrder, id)
	}
	return t, nil
}

// Forward schedules fn to run on the room loop. It reports false if the
// forward queue is full, in which case the caller should retry (spec.md §5,
// §7: ErrNoBuffer). Safe to call from any goroutine.
func (t *Tailer) Forward(fn func()) bool {
	return t.queue.Forward(command(fn))
}

// Run executes the room loop until ctx is canceled. Every other method on
// Tailer except Forward, SendLogRecord, SendGapRecord and GetStatistics must
// only be called from the goroutine running Run, or from a fn passed to
// Forward.
func (t *Tailer) Run(ctx context.Context) {
	t.queue.Run(ctx)
}

func (t *Tailer) allReaders() []*logReader {
	readers := make([]*logReader, 0, len(t.readerOrder)+1)
	for _, id := range t.readerOrder {
		readers = append(readers, t.readers[id])
	}
	readers = append(readers, t.virtual)
	return readers
}

// readerForNewSubscription picks the cheapest physical reader for a new
// subscription on topic/logID starting at seqno, falling back to the
// virtual reader when every physical reader would need to rewind past data
// it has already discarded (SubscriptionCost == costRewind). With exactly
// one physical reader, that reader is always returned: a rewind on it is
// unavoidable, and the virtual reader's parked state can never be stolen
// back since the sole physical reader is always already open on the log.
func (t *Tailer) readerForNewSubscription(topic TopicUUID, logID LogID, seqno SequenceNumber) *logReader {
	if len(t.readerOrder) == 1 {
		return t.readers[t.readerOrder[0]]
	}
	var best *logReader
	bestCost := costRewind
	for _, id := range t.readerOrder {
		r := t.readers[id]
		if c := r.SubscriptionCost(topic, logID, seqno); c < bestCost {
			bestCost = c
			best = r
		}
	}
	if best == nil {
		return t.virtual
	}
	return best
}

// AddSubscriber subscribes sub to topic starting at seqno. seqno == 0 means
// "subscribe at the current tail" and is delegated to AddTailSubscriber
// (spec.md §6).
func (t *Tailer) AddSubscriber(ctx context.Context, topic TopicUUID, seqno SequenceNumber, sub CopilotSub) error {
	t.stats.AddSubscriberRequests.Inc()
	if seqno == 0 {
		return t.addTailSubscriber(ctx, topic, sub)
	}

	logID, err := t.router.GetLogID(topic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := t.addSubscriberInternal(ctx, topic, logID, seqno, sub); err != nil {
		return err
	}
	t.streams.Insert(sub, topic)
	return nil
}

// addSubscriberInternal serves whatever prefix is already cached, registers
// sub with the TopicManager at the cache-bridged position, then picks a
// reader and positions it there too, so the reader never re-reads records
// the subscriber already received from cache. It does not touch
// streamSubscriptions; callers are responsible for that once the
// subscription is known to have succeeded.
func (t *Tailer) addSubscriberInternal(ctx context.Context, topic TopicUUID, logID LogID, seqno SequenceNumber, sub CopilotSub) error {
	seqno = t.deliverFromCache(topic, logID, sub, seqno)
	if !t.topics.AddSubscriber(topic, seqno, sub) {
		t.stats.UpdatedSubscriptions.Inc()
	}
	reader := t.readerForNewSubscription(topic, logID, seqno)
	return reader.StartReading(ctx, topic, logID, seqno)
}

// addTailSubscriber resolves the current tail of topic's log and subscribes
// sub one past it, first sending sub a benign gap from 0 up to the seqno
// just before its starting point. When the log's tail estimate is already
// known and storage can accept a subscribe-past-end position directly
// (LogTailer.CanSubscribePastEnd), this skips the async FindLatestSeqno
// round-trip entirely (the "fast path"); otherwise it races FindLatestSeqno
// against a possible concurrent RemoveSubscriber, resolved by checking
// streamSubscriptions.Live before committing (SPEC_FULL.md §11), and
// records the resolved tail as the log's tail estimate.
func (t *Tailer) addTailSubscriber(ctx context.Context, topic TopicUUID, sub CopilotSub) error {
	t.stats.AddSubscriberRequestsAt0.Inc()

	logID, err := t.router.GetLogID(topic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if est, known := t.tailEstimate[logID]; known && t.storage.CanSubscribePastEnd() {
		t.stats.AddSubscriberRequestsAt0Fast.Inc()
		seqno := est + 1
		t.onMessage(gapMessage(topic, GapBenign, 0, seqno-1), []CopilotSub{sub})
		if err := t.addSubscriberInternal(ctx, topic, logID, seqno, sub); err != nil {
			return err
		}
		t.streams.Insert(sub, topic)
		return nil
	}

	t.stats.AddSubscriberRequestsAt0Slow.Inc()
	t.streams.Insert(sub, topic)
	t.storage.FindLatestSeqno(ctx, logID, func(seqno SequenceNumber, err error) {
		if !t.Forward(func() {
			if !t.streams.Live(sub) {
				return
			}
			if err != nil {
				t.logger.Error("find latest seqno failed",
					log.Field{Key: "topic", Value: topic.String()},
					log.Field{Key: "error", Value: err.Error()})
				t.streams.Remove(sub)
				return
			}
			if seqno > t.tailEstimate[logID] {
				t.tailEstimate[logID] = seqno
			}
			t.onMessage(gapMessage(topic, GapBenign, 0, seqno), []CopilotSub{sub})
			if addErr := t.addSubscriberInternal(ctx, topic, logID, seqno+1, sub); addErr != nil {
				t.logger.Error("tail subscribe failed",
					log.Field{Key: "topic", Value: topic.String()},
					log.Field{Key: "error", Value: addErr.Error()})
				t.streams.Remove(sub)
			}
		}) {
			t.logger.Warn("dropped tail subscribe result, forward queue full",
				log.Field{Key: "topic", Value: topic.String()})
		}
	})
	return nil
}

// RemoveSubscriber unsubscribes sub. If it was the last subscriber on its
// topic, every reader holding that topic open on the underlying log stops
// reading it, and once no reader has the log open its tail estimate is
// dropped.
func (t *Tailer) RemoveSubscriber(ctx context.Context, sub CopilotSub) error {
	topic, ok := t.streams.Remove(sub)
	if !ok {
		return ErrNotFound
	}
	t.stats.RemoveSubscriberRequests.Inc()
	return t.retireTopicIfEmpty(ctx, topic, sub)
}

// RemoveStream unsubscribes every subscription belonging to streamID, for
// connection teardown.
func (t *Tailer) RemoveStream(ctx context.Context, streamID uint64) {
	for _, removed := range t.streams.RemoveStream(streamID) {
		t.stats.RemoveSubscriberRequests.Inc()
		if err := t.retireTopicIfEmpty(ctx, removed.Topic, removed.Sub); err != nil {
			t.logger.Warn("error tearing down subscription",
				log.Field{Key: "topic", Value: removed.Topic.String()},
				log.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (t *Tailer) retireTopicIfEmpty(ctx context.Context, topic TopicUUID, sub CopilotSub) error {
	if !t.topics.RemoveSubscriber(topic, sub) {
		return nil
	}
	logID, err := t.router.GetLogID(topic)
	if err != nil {
		return nil
	}
	for _, r := range t.allReaders() {
		if err := r.StopReading(ctx, topic, logID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for _, r := range t.allReaders() {
		if r.IsOpen(logID) {
			return nil
		}
	}
	delete(t.tailEstimate, logID)
	return nil
}

// deliverFromCache serves every cached record matching topic at or after
// from directly to sub, bridges whatever remains of the cached range with a
// synthetic benign gap, and returns the seqno immediately past everything
// the log's cache already covers. The caller must use that returned seqno,
// not from, to register sub and to position its reader: the cache may hold
// records past the last one matching topic (other topics sharing the same
// log), and a reader opened at from rather than the bridged position would
// re-read and redeliver exactly what the cache just served.
func (t *Tailer) deliverFromCache(topic TopicUUID, logID LogID, sub CopilotSub, from SequenceNumber) SequenceNumber {
	if !t.cache.enabled() || from == 0 {
		return from
	}
	last := from - 1
	bridged := t.cache.VisitCache(logID, from, func(cTopic TopicUUID, seqno SequenceNumber, payload []byte) {
		if cTopic != topic {
			return
		}
		t.onMessage(deliverMessage(topic, last, seqno, payload), []CopilotSub{sub})
		last = seqno
	})
	if bridged > last+1 {
		t.onMessage(gapMessage(topic, GapBenign, last, bridged-1), []CopilotSub{sub})
	}
	return bridged
}

// SendLogRecord is storage's entry point for a new record. Called from an
// arbitrary storage goroutine; it copies payload and hands the work to the
// room loop. Returns ErrNoBuffer if the forward queue is full.
func (t *Tailer) SendLogRecord(logID LogID, readerID uint64, topic TopicUUID, seqno SequenceNumber, payload []byte) error {
	if t.faultRate > 0 && t.randFloat() < t.faultRate {
		return ErrNoBuffer
	}
	owned := append([]byte(nil), payload...)
	if !t.Forward(func() { t.processLogRecord(logID, readerID, topic, seqno, owned) }) {
		return ErrNoBuffer
	}
	return nil
}

// processLogRecord runs on the room loop. A reader with no tracked interest
// in topic returns prev == 0 from ProcessRecord (topicState.nextSeqno is
// never zero once set), which this treats as "not this reader's
// responsibility to deliver" rather than matching every subscriber waiting
// anywhere in [0, seqno]. Every accepted record also bumps this reader's
// topics on logID that lag more than maxSubscriptionLag behind seqno, and
// attempts reader merges on logID.
func (t *Tailer) processLogRecord(logID LogID, readerID uint64, topic TopicUUID, seqno SequenceNumber, payload []byte) {
	t.stats.LogRecordsReceived.Inc()
	r, ok := t.readers[readerID]
	if !ok {
		t.logger.Warn("log record from unknown reader",
			log.Field{Key: "reader_id", Value: readerID})
		return
	}

	prev, err := r.ProcessRecord(logID, seqno, topic)
	if err != nil {
		if errors.Is(err, ErrOutOfOrder) {
			t.stats.LogRecordsOutOfOrder.Inc()
		}
		t.logger.Error("process record failed",
			log.Field{Key: "log_id", Value: logID},
			log.Field{Key: "reader_id", Value: readerID},
			log.Field{Key: "error", Value: err.Error()})
		return
	}
	r.SetTailSeqno(logID, seqno)
	if seqno > t.tailEstimate[logID] {
		t.stats.NewTailRecordsSent.Inc()
		t.tailEstimate[logID] = seqno
	}
	t.cache.StoreData(logID, topic, seqno, payload)
	r.BumpLaggingSubscriptions(logID, seqno, t.maxSubscriptionLag, func(bumped TopicUUID, lastKnown SequenceNumber) {
		t.stats.BumpedSubscriptions.Inc()
		if recipients := t.topics.VisitSubscribers(bumped, lastKnown, seqno); len(recipients) > 0 {
			t.onMessage(gapMessage(bumped, GapBenign, lastKnown, seqno), recipients)
		}
	})
	if err := t.AttemptReaderMerges(context.Background(), logID); err != nil {
		t.logger.Warn("reader merge failed",
			log.Field{Key: "log_id", Value: logID}, log.Field{Key: "error", Value: err.Error()})
	}

	if prev == 0 {
		t.stats.LogRecordsWithoutSubscriptions.Inc()
		return
	}
	recipients := t.topics.VisitSubscribers(topic, prev, seqno)
	if len(recipients) == 0 {
		t.stats.LogRecordsWithoutSubscriptions.Inc()
		return
	}
	t.stats.LogRecordsWithSubscriptions.Inc()
	t.onMessage(deliverMessage(topic, prev, seqno, payload), recipients)
}

// SendGapRecord is storage's entry point for a gap. Gaps are reported
// log-wide, not per topic — storage has no single topic of its own to
// attach to a gap — so unlike SendLogRecord there is no topic parameter;
// the affected topics are whatever the reader tracks on logID. Called from
// an arbitrary storage goroutine; forwarded to the room loop like
// SendLogRecord.
func (t *Tailer) SendGapRecord(logID LogID, readerID uint64, gapType GapType, from, to SequenceNumber) error {
	if !t.Forward(func() { t.processGapRecord(logID, readerID, gapType, from, to) }) {
		return ErrNoBuffer
	}
	return nil
}

func (t *Tailer) processGapRecord(logID LogID, readerID uint64, gapType GapType, from, to SequenceNumber) {
	t.stats.GapRecordsReceived.Inc()
	r, ok := t.readers[readerID]
	if !ok {
		t.logger.Warn("gap record from unknown reader",
			log.Field{Key: "reader_id", Value: readerID})
		return
	}

	if gapType.Malignant() {
		t.processMalignantGap(r, logID, gapType, from, to)
		return
	}
	t.processBenignGap(r, logID, from, to)
}

// processMalignantGap flushes every topic this reader tracked on logID,
// since none of that per-topic history can be trusted past the gap, and
// notifies each affected topic's subscribers individually.
func (t *Tailer) processMalignantGap(r *logReader, logID LogID, gapType GapType, from, to SequenceNumber) {
	t.stats.MalignantGapsReceived.Inc()
	if err := r.ValidateGap(logID, from); err != nil {
		if errors.Is(err, ErrOutOfOrder) {
			t.stats.GapRecordsOutOfOrder.Inc()
		}
		t.logger.Error("malignant gap validation failed",
			log.Field{Key: "log_id", Value: logID}, log.Field{Key: "error", Value: err.Error()})
		return
	}

	if ls, ok := r.logs[logID]; ok {
		var affected []TopicUUID
		ls.topics.Range(func(topic TopicUUID, ts *topicState) bool {
			affected = append(affected, topic)
			return true
		})
		for _, topic := range affected {
			ts, _ := ls.topics.Get(topic)
			recipients := t.topics.VisitSubscribers(topic, ts.nextSeqno, to)
			if len(recipients) == 0 {
				t.stats.GapRecordsWithoutSubscriptions.Inc()
				continue
			}
			t.stats.GapRecordsWithSubscriptions.Inc()
			t.onMessage(gapMessage(topic, gapType, from, to), recipients)
		}
	}
	r.FlushHistory(logID, to+1)
}

// processBenignGap fans out over every topic this reader tracks on logID,
// mirroring processMalignantGap: nothing was lost, so unlike the malignant
// path there is no history to flush, but every affected topic still needs
// its own subscribers notified and its own expected-next position advanced.
func (t *Tailer) processBenignGap(r *logReader, logID LogID, from, to SequenceNumber) {
	t.stats.BenignGapsReceived.Inc()
	prevs, err := r.ProcessGap(logID, from, to)
	if err != nil {
		if errors.Is(err, ErrOutOfOrder) {
			t.stats.GapRecordsOutOfOrder.Inc()
		}
		t.logger.Error("benign gap processing failed",
			log.Field{Key: "log_id", Value: logID}, log.Field{Key: "error", Value: err.Error()})
		return
	}
	if len(prevs) == 0 {
		t.stats.GapRecordsWithoutSubscriptions.Inc()
		return
	}
	for topic, prev := range prevs {
		recipients := t.topics.VisitSubscribers(topic, prev, to)
		if len(recipients) == 0 {
			t.stats.GapRecordsWithoutSubscriptions.Inc()
			continue
		}
		t.stats.GapRecordsWithSubscriptions.Inc()
		t.onMessage(gapMessage(topic, GapBenign, from, to), recipients)
	}
}

// BumpLaggingSubscriptions advances any subscription on any open log that
// has fallen more than maxSubscriptionLag behind that log's current tail
// estimate, sending each a synthetic benign gap. Must be invoked on the
// room loop (call it from a Forward closure on a ticker).
func (t *Tailer) BumpLaggingSubscriptions() {
	for logID, current := range t.tailEstimate {
		for _, r := range t.allReaders() {
			r.BumpLaggingSubscriptions(logID, current, t.maxSubscriptionLag, func(topic TopicUUID, lastKnown SequenceNumber) {
				t.stats.BumpedSubscriptions.Inc()
				recipients := t.topics.VisitSubscribers(topic, lastKnown, current)
				if len(recipients) > 0 {
					t.onMessage(gapMessage(topic, GapBenign, lastKnown, current), recipients)
				}
			})
		}
	}
}

// AttemptReaderMerges folds any two physical readers on logID that share an
// identical read position into one, then lets a now-idle physical reader
// steal the virtual reader's parked subscriptions on logID, if any.
func (t *Tailer) AttemptReaderMerges(ctx context.Context, logID LogID) error {
	for i, idA := range t.readerOrder {
		a := t.readers[idA]
		if !a.IsOpen(logID) {
			continue
		}
		for _, idB := range t.readerOrder[i+1:] {
			b := t.readers[idB]
			if !b.IsOpen(logID) {
				continue
			}
			switch {
			case a.CanMergeInto(b, logID):
				if err := a.MergeInto(ctx, b, logID); err != nil {
					return err
				}
			case b.CanMergeInto(a, logID):
				if err := b.MergeInto(ctx, a, logID); err != nil {
					return err
				}
			}
		}
	}

	if !t.virtual.IsOpen(logID) {
		return nil
	}
	for _, id := range t.readerOrder {
		r := t.readers[id]
		if r.IsOpen(logID) {
			continue
		}
		if err := r.StealLogSubscriptions(ctx, t.virtual, logID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		break
	}
	return nil
}

// GetStatistics returns a point-in-time snapshot of every counter.
func (t *Tailer) GetStatistics() StatsSnapshot {
	return t.stats.Snapshot()
}

// GetTailSeqnoEstimate returns the highest seqno observed on logID so far
// (from a processed record or a resolved tail subscribe), if any; the
// estimate is dropped once no reader has the log open. Reads tailEstimate
// directly: per this
// package's room-loop invariant, callers outside the room loop must hop in
// via Forward rather than call this from an arbitrary goroutine.
func (t *Tailer) GetTailSeqnoEstimate(logID LogID) (SequenceNumber, bool) {
	seqno, ok := t.tailEstimate[logID]
	return seqno, ok
}

// LogInfo is one log's admin-visible summary, returned by GetLogInfo and
// GetAllLogsInfo (spec.md §6, supplemented per SPEC_FULL.md §10).
type LogInfo struct {
	LogID           LogID
	TailEstimate    SequenceNumber
	OpenReaderCount int
	TopicCount      int
}

// GetLogInfo summarizes logID's current state across every reader. It reads
// reader state directly and must only be called from the room loop; an
// outside caller (e.g. an admin HTTP handler) must route through Forward.
func (t *Tailer) GetLogInfo(logID LogID) LogInfo {
	info := LogInfo{LogID: logID, TailEstimate: t.tailEstimate[logID]}
	seen := make(map[TopicUUID]bool)
	for _, r := range t.allReaders() {
		ls, ok := r.logs[logID]
		if !ok {
			continue
		}
		info.OpenReaderCount++
		ls.topics.Range(func(topic TopicUUID, _ *topicState) bool {
			seen[topic] = true
			return true
		})
	}
	info.TopicCount = len(seen)
	return info
}

// GetAllLogsInfo summarizes every log currently open on any reader, sorted
// by LogID. Same room-loop-only caveat as GetLogInfo.
func (t *Tailer) GetAllLogsInfo() []LogInfo {
	open := make(map[LogID]bool)
	for _, r := range t.allReaders() {
		for logID := range r.logs {
			open[logID] = true
		}
	}
	infos := make([]LogInfo, 0, len(open))
	for logID := range open {
		infos = append(infos, t.GetLogInfo(logID))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LogID < infos[j].LogID })
	return infos
}
