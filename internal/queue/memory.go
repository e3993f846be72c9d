package queue

import (
	"context"
	"sort"
	"sync"
)

var _ Broker = (*MemoryBroker)(nil)

// MemoryBroker is an in-process broker with the same at-least-once contract
// as the real ones. Each consumer holds one delivery at a time and a nacked
// message goes back in publish order.
type MemoryBroker struct {
	mu        sync.Mutex
	topics    map[string]*memoryTopic
	published map[string][]*Message
	seq       uint64
	closed    bool
}

type memoryEntry struct {
	seq uint64
	msg *Message
}

type memoryTopic struct {
	ready    []memoryEntry
	inflight map[uint64]memoryEntry
	signal   chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:    make(map[string]*memoryTopic),
		published: make(map[string][]*Message),
	}
}

func (m *MemoryBroker) topic(name string) *memoryTopic {
	t, ok := m.topics[name]
	if !ok {
		t = &memoryTopic{
			inflight: make(map[uint64]memoryEntry),
			signal:   make(chan struct{}, 1),
		}
		m.topics[name] = t
	}
	return t
}

func (t *memoryTopic) notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (m *MemoryBroker) Publish(ctx context.Context, topic string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.seq++
	t := m.topic(topic)
	t.ready = append(t.ready, memoryEntry{seq: m.seq, msg: msg})
	m.published[topic] = append(m.published[topic], msg)
	t.notify()

	return nil
}

func (m *MemoryBroker) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	t := m.topic(topic)
	m.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for ctx.Err() == nil {
			entry, ok := m.take(t)
			if !ok {
				if m.isClosed() {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-t.signal:
					continue
				}
			}

			d := &memoryDelivery{broker: m, topic: t, entry: entry, settled: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				m.release(t, entry)
				return
			}

			<-d.settled
		}
	}()

	return out, nil
}

// take moves the oldest ready entry in flight.
func (m *MemoryBroker) take(t *memoryTopic) (memoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || len(t.ready) == 0 {
		return memoryEntry{}, false
	}

	entry := t.ready[0]
	t.ready = t.ready[1:]
	t.inflight[entry.seq] = entry

	return entry, true
}

func (m *MemoryBroker) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// release puts an entry that was never handed out back in order.
func (m *MemoryBroker) release(t *memoryTopic, entry memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := t.inflight[entry.seq]; ok {
		delete(t.inflight, entry.seq)
		m.requeue(t, entry)
	}
}

func (m *MemoryBroker) requeue(t *memoryTopic, entry memoryEntry) {
	t.ready = append(t.ready, entry)
	sort.Slice(t.ready, func(i, j int) bool {
		return t.ready[i].seq < t.ready[j].seq
	})
	t.notify()
}

// Published returns every message ever published on topic, settled or not.
func (m *MemoryBroker) Published(topic string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*Message, len(m.published[topic]))
	copy(msgs, m.published[topic])
	return msgs
}

// Unacked counts the messages of topic not yet acknowledged.
func (m *MemoryBroker) Unacked(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[topic]
	if !ok {
		return 0
	}
	return len(t.ready) + len(t.inflight)
}

func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, t := range m.topics {
		t.notify()
	}
	return nil
}

type memoryDelivery struct {
	broker  *MemoryBroker
	topic   *memoryTopic
	entry   memoryEntry
	once    sync.Once
	settled chan struct{}
}

func (d *memoryDelivery) Message() *Message {
	return d.entry.msg
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	defer d.settle()

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()

	delete(d.topic.inflight, d.entry.seq)
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context) error {
	defer d.settle()

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()

	if _, ok := d.topic.inflight[d.entry.seq]; !ok {
		return nil
	}
	delete(d.topic.inflight, d.entry.seq)
	d.broker.requeue(d.topic, d.entry)

	return nil
}

func (d *memoryDelivery) settle() {
	d.once.Do(func() {
		close(d.settled)
	})
}
