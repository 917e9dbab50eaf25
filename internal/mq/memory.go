package mq

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process Backend selected by MQ_BACKEND=memory.
// Messages published before a subscriber attaches are buffered per channel;
// once a buffer is full the oldest message is dropped so publishers never
// block.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]chan Message
	closed bool
	size   int
}

// NewMemoryBackend returns a backend whose channels buffer up to size
// messages each.
func NewMemoryBackend(size int) *MemoryBackend {
	if size < 1 {
		size = 64
	}
	return &MemoryBackend{
		queues: make(map[string]chan Message),
		size:   size,
	}
}

func (m *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}

	msg := Message{
		ID:         uuid.NewString(),
		Data:       append([]byte(nil), data...),
		Attributes: maps.Clone(attrs),
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for {
		select {
		case q <- msg:
			return msg.ID, nil
		default:
		}
		// Full with nobody reading: drop the oldest message.
		select {
		case <-q:
		default:
		}
	}
}

// Subscribe delivers messages until ctx is done. Messages whose handler
// fails are requeued once more at the tail.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := m.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBackend) queue(channel string) (chan Message, error) {
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("backend closed")
	}
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan Message, m.size)
		m.queues[channel] = q
	}
	return q, nil
}
