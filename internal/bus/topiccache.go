package bus

import "sync"

// TopicCache is a process-wide check-then-insert set of known-to-exist
// Kafka topics, grounded on kafka_admin.rs's ensure_topic_exists: a cheap
// read-locked check, then a double-checked write-locked insert so
// concurrent callers don't race to create the same topic.
type TopicCache struct {
	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewTopicCache returns an empty TopicCache.
func NewTopicCache() *TopicCache {
	return &TopicCache{topics: make(map[string]struct{})}
}

// EnsureExists calls create for topic if it isn't already known. A
// successful create is cached, so create is not invoked again for that
// topic; a failed create is not cached and is retried on the next call.
func (c *TopicCache) EnsureExists(topic string, create func(topic string) error) error {
	c.mu.RLock()
	_, known := c.topics[topic]
	c.mu.RUnlock()
	if known {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, known := c.topics[topic]; known {
		return nil
	}
	if err := create(topic); err != nil {
		return err
	}
	c.topics[topic] = struct{}{}
	return nil
}
