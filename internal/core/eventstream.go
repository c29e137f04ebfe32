package core

import (
	"sync"
	"time"

	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// EventStream внутрипроцессная шина событий ядра. Любая часть системы
// публикует события без ожидания (fire-and-forget), подписчики читают их
// через собственные курсоры. Хвост, прочитанный всеми подписчиками,
// периодически освобождается, поэтому буфер не растет бесконечно.
type EventStream struct {
	mu            sync.Mutex
	events        []models.Event
	subscriptions map[*Subscription]struct{}
	seq           uint64
	lastPost      time.Time
	warnedLong    bool
	done          chan struct{}
	logger        *utils.Logger
}

// Subscription курсор подписчика в потоке событий. offset указывает на
// первую еще не прочитанную запись.
type Subscription struct {
	stream      *EventStream
	offset      int
	lastGet     time.Time
	warnedNoGet bool
}

// NewEventStream создает поток событий и запускает фоновый монитор,
// который уплотняет буфер и предупреждает о молчащих подписчиках.
func NewEventStream(logger *utils.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*Subscription]struct{}),
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		logger:        logger.WithField("component", "events"),
	}
	go es.monitor()
	return es
}

// Subscribe регистрирует нового подписчика. События, опубликованные до
// подписки, подписчику не видны.
func (e *EventStream) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		stream:  e,
		offset:  len(e.events),
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = struct{}{}
	return sub
}

// Post публикует событие. Номер в последовательности монотонно растет;
// при отсутствии подписчиков событие отбрасывается, но номер расходуется.
func (e *EventStream) Post(kind models.EventKind, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	if len(e.subscriptions) == 0 {
		return
	}
	e.lastPost = time.Now()
	e.events = append(e.events, models.Event{
		Sequence: e.seq,
		Kind:     kind,
		Time:     time.Now().UTC(),
		Payload:  payload,
	})
}

// Depth возвращает число событий, еще не прочитанных хотя бы одним
// подписчиком.
func (e *EventStream) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// Close останавливает монитор и снимает всех подписчиков.
func (e *EventStream) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.subscriptions = make(map[*Subscription]struct{})
	e.events = nil
}

// Get возвращает события, накопившиеся с предыдущего вызова Get.
func (s *Subscription) Get() []models.Event {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()

	if _, ok := s.stream.subscriptions[s]; !ok {
		s.stream.logger.Error("Get on unregistered event subscription")
		return nil
	}

	pending := s.stream.events[s.offset:]
	if len(pending) == 0 {
		s.lastGet = time.Now()
		return nil
	}
	out := make([]models.Event, len(pending))
	copy(out, pending)
	s.offset = len(s.stream.events)
	s.lastGet = time.Now()
	s.warnedNoGet = false
	return out
}

// Unsubscribe снимает подписку; дальнейшие вызовы Get вернут nil.
func (s *Subscription) Unsubscribe() {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()
	delete(s.stream.subscriptions, s)
}

func (e *EventStream) monitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		e.compact()
		metrics.EventStreamDepth.Set(float64(len(e.events)))

		if len(e.events) > 1000 && !e.warnedLong {
			e.logger.WithFields(map[string]interface{}{
				"depth":       len(e.events),
				"subscribers": len(e.subscriptions),
			}).Warn("Event stream backlog is growing, a subscriber is likely stuck")
			e.warnedLong = true
		}

		// Жалуемся на молчащих подписчиков только если поток живой,
		// иначе тишина ожидаема.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.logger.WithField("idle", d.String()).Warn("Event subscriber has not consumed events recently")
					sub.warnedNoGet = true
				}
			}
		}
		e.mu.Unlock()
	}
}

// compact освобождает префикс, прочитанный всеми подписчиками. Сдвиг
// выполняется только когда выигрыш превышает половину емкости буфера.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset
		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]

		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}
		e.warnedLong = false
	}
}
