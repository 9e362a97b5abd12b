package tailer

// topicSubscription is one subscriber's position on one topic.
type topicSubscription struct {
	id           CopilotSub
	expectedNext SequenceNumber
}

// topicManager maps a topic to its list of subscribers, each tracking the
// seqno it expects to receive next. Grounded on
// original_source/src/controltower/topic.cc's TopicManager: a plain
// slice-based per-topic subscriber list, since the subscriber counts per
// topic are small and VisitSubscribers/VisitTopics are the only access
// patterns that matter.
type topicManager struct {
	topics map[TopicUUID][]topicSubscription
}

func newTopicManager() *topicManager {
	return &topicManager{topics: make(map[TopicUUID][]topicSubscription)}
}

// AddSubscriber adds id to topic with the given expected seqno. If id is
// already subscribed to topic, its expected seqno is updated in place and
// false is returned (the caller should count this as an update, not a new
// subscription).
func (m *topicManager) AddSubscriber(topic TopicUUID, seqno SequenceNumber, id CopilotSub) bool {
	subs := m.topics[topic]
	for i := range subs {
		if subs[i].id == id {
			subs[i].expectedNext = seqno
			return false
		}
	}
	m.topics[topic] = append(subs, topicSubscription{id: id, expectedNext: seqno})
	return true
}

// RemoveSubscriber removes id from topic. It reports whether the topic now
// has zero subscribers (and was therefore erased).
func (m *topicManager) RemoveSubscriber(topic TopicUUID, id CopilotSub) bool {
	subs, ok := m.topics[topic]
	if !ok {
		return false
	}
	for i := range subs {
		if subs[i].id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(m.topics, topic)
		return true
	}
	m.topics[topic] = subs
	return false
}

// VisitSubscribers collects every subscriber on topic whose expectedNext
// lies in [from, to]. The returned slice of CopilotSub contains the matched
// recipients; each matched subscriber's expectedNext
// is advanced to to+1.
func (m *topicManager) VisitSubscribers(topic TopicUUID, from, to SequenceNumber) []CopilotSub {
	subs, ok := m.topics[topic]
	if !ok {
		return nil
	}
	var recipients []CopilotSub
	for i := range subs {
		if subs[i].expectedNext >= from && subs[i].expectedNext <= to {
			recipients = append(recipients, subs[i].id)
			subs[i].expectedNext = to + 1
		}
	}
	return recipients
}

// HasSubscribers reports whether topic currently has any subscriber.
func (m *topicManager) HasSubscribers(topic TopicUUID) bool {
	return len(m.topics[topic]) > 0
}

// VisitTopics calls visit with every topic currently tracked. The topic
// list is snapshotted first so visit may safely remove subscribers (via
// RemoveSubscriber) on the visited topic without disturbing iteration.
func (m *topicManager) VisitTopics(visit func(topic TopicUUID)) {
	snapshot := make([]TopicUUID, 0, len(m.topics))
	for topic := range m.topics {
		snapshot = append(snapshot, topic)
	}
	for _, topic := range snapshot {
		visit(topic)
	}
}
