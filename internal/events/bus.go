// Package events внутрипроцессная шина доменных событий.
// Publish не блокируется: у каждого подписчика своя очередь и своя горутина,
// поэтому порядок событий внутри подписчика сохраняется, а медленный подписчик не тормозит остальных.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
)

const (
	DefaultBufferSize     = 256
	DefaultHandlerTimeout = 10 * time.Second
)

type Handler func(ctx context.Context, event models.Event)

type subscriber struct {
	name    string
	topics  map[models.EventTopic]struct{}
	handler Handler
	queue   chan models.Event
}

func (s *subscriber) wants(topic models.EventTopic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type Bus struct {
	log            *slog.Logger
	metrics        *metrics.Metrics
	bufferSize     int
	handlerTimeout time.Duration

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

// New создаёт шину. handlerTimeout ограничивает обработку одного события одним подписчиком.
func New(log *slog.Logger, bufferSize int, handlerTimeout time.Duration, m *metrics.Metrics) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if handlerTimeout <= 0 {
		handlerTimeout = DefaultHandlerTimeout
	}
	return &Bus{
		log:            log.With(slog.String("component", "events.Bus")),
		metrics:        m,
		bufferSize:     bufferSize,
		handlerTimeout: handlerTimeout,
	}
}

// Subscribe регистрирует обработчик. Без topics подписчик получает все события.
func (b *Bus) Subscribe(name string, handler Handler, topics ...models.EventTopic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("events.Bus.Subscribe: bus is closed")
	}

	sub := &subscriber{
		name:    name,
		topics:  make(map[models.EventTopic]struct{}, len(topics)),
		handler: handler,
		queue:   make(chan models.Event, b.bufferSize),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go b.run(sub)
	return nil
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscriber, event models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked",
				slog.String("subscriber", sub.name),
				slog.String("topic", string(event.Topic())),
				slog.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, event)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.log.Warn("subscriber exceeded handler timeout",
			slog.String("subscriber", sub.name),
			slog.String("topic", string(event.Topic())),
			slog.Duration("timeout", b.handlerTimeout),
		)
	}
}

// Publish раскладывает событие по очередям подписчиков. Если очередь заполнена, событие
// для этого подписчика отбрасывается.
func (b *Bus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warn("publish on closed bus", slog.String("topic", string(event.Topic())))
		return
	}

	b.metrics.EventsPublished.WithLabelValues(string(event.Topic())).Inc()
	for _, sub := range b.subs {
		if !sub.wants(event.Topic()) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.metrics.EventsDropped.WithLabelValues(sub.name).Inc()
			b.log.Warn("subscriber queue full, event dropped",
				slog.String("subscriber", sub.name),
				slog.String("topic", string(event.Topic())),
			)
		}
	}
}

// Close перестаёт принимать события и ждёт, пока подписчики разберут очереди, либо отмены ctx.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.queue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events.Bus.Close: %w", ctx.Err())
	}
}
