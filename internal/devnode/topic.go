package devnode

import (
	"sync"
)

// subscriber is one open subscription on a topic.
type subscriber struct {
	id      string
	method  string
	session *session
}

// Topic fans a stream of payloads out to its subscribers.
type Topic struct {
	name        string
	subscribers map[string]*subscriber
	mu          sync.RWMutex
}

func NewTopic(name string) *Topic {
	return &Topic{
		name:        name,
		subscribers: make(map[string]*subscriber),
	}
}

func (t *Topic) add(sub *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[sub.id] = sub
}

func (t *Topic) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.subscribers[id]
	delete(t.subscribers, id)
	return exists
}

func (t *Topic) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

func (t *Topic) Name() string {
	return t.name
}

func (t *Topic) snapshot() []*subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()

	subs := make([]*subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

type TopicManager struct {
	topics map[string]*Topic
	mu     sync.RWMutex
}

func NewTopicManager() *TopicManager {
	return &TopicManager{
		topics: make(map[string]*Topic),
	}
}

func (tm *TopicManager) GetTopic(name string) *Topic {
	tm.mu.RLock()
	topic, exists := tm.topics[name]
	tm.mu.RUnlock()

	if !exists {
		tm.mu.Lock()
		if topic, exists = tm.topics[name]; !exists {
			topic = NewTopic(name)
			tm.topics[name] = topic
		}
		tm.mu.Unlock()
	}

	return topic
}

func (tm *TopicManager) Topics() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	names := make([]string, 0, len(tm.topics))
	for name := range tm.topics {
		names = append(names, name)
	}
	return names
}

// Leave removes the subscription id from whichever topic holds it.
func (tm *TopicManager) Leave(id string) bool {
	tm.mu.RLock()
	topics := make([]*Topic, 0, len(tm.topics))
	for _, topic := range tm.topics {
		topics = append(topics, topic)
	}
	tm.mu.RUnlock()

	for _, topic := range topics {
		if topic.remove(id) {
			return true
		}
	}
	return false
}

// subscribersOf returns the current subscribers of name.
func (tm *TopicManager) subscribersOf(name string) []*subscriber {
	tm.mu.RLock()
	topic, exists := tm.topics[name]
	tm.mu.RUnlock()

	if !exists {
		return nil
	}
	return topic.snapshot()
}
