package channel

import "sync"

// subscriptions is the set of topics the application wants, in insertion order.
type subscriptions struct {
	mu     sync.Mutex
	order  []string
	topics map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		topics: make(map[string]struct{}),
	}
}

// Add returns true if the topic was newly added.
func (s *subscriptions) Add(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return false
	}
	s.topics[topic] = struct{}{}
	s.order = append(s.order, topic)
	return true
}

// Remove returns true if the topic was present.
func (s *subscriptions) Remove(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return false
	}
	delete(s.topics, topic)
	for i, t := range s.order {
		if t == topic {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *subscriptions) Contains(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// List returns a copy of the topics in insertion order.
func (s *subscriptions) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
