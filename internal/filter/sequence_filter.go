package filter

import (
	"fmt"
	"time"
)

// SequenceFilter отбрасывает кадры с нарушенным временным порядком:
// рассинхронизированные часы, устаревшие кадры из ретрансляций брокера,
// повторные доставки при QoS 1 и сообщения, обогнанные более свежими.
//
// Метка времени телеметрии имеет секундное разрешение, поэтому кадры
// с одинаковым ts легальны при частоте выше 1 Гц; дублем считается
// только полное совпадение ts и позиции.
type SequenceFilter struct {
	maxClockSkew time.Duration
	staleAfter   time.Duration
}

// NewSequenceFilter создает фильтр временного порядка
func NewSequenceFilter(cfg *Config) *SequenceFilter {
	return &SequenceFilter{
		maxClockSkew: cfg.MaxClockSkew,
		staleAfter:   cfg.StaleAfter,
	}
}

// Name возвращает имя фильтра
func (f *SequenceFilter) Name() string {
	return "sequence"
}

// Check проверяет временной порядок кадра
func (f *SequenceFilter) Check(frame, last *Frame) Verdict {
	if f.maxClockSkew > 0 && frame.SentAt.After(frame.ReceivedAt.Add(f.maxClockSkew)) {
		return Reject(ReasonClockSkew,
			fmt.Sprintf("sent_at is %s ahead of receive time",
				frame.SentAt.Sub(frame.ReceivedAt).Round(time.Millisecond)))
	}

	if f.staleAfter > 0 {
		if age := frame.ReceivedAt.Sub(frame.SentAt); age > f.staleAfter {
			return Reject(ReasonStaleFrame,
				fmt.Sprintf("frame is %s old, limit %s", age.Round(time.Second), f.staleAfter))
		}
	}

	if last == nil {
		return Accept()
	}

	if frame.SentAt.Before(last.SentAt) {
		return Reject(ReasonOutOfOrder,
			fmt.Sprintf("sent_at %s precedes last accepted %s",
				frame.SentAt.Format(time.RFC3339), last.SentAt.Format(time.RFC3339)))
	}

	if frame.SentAt.Equal(last.SentAt) && frame.Position == last.Position {
		return Reject(ReasonDuplicate, "identical timestamp and position")
	}

	return Accept()
}
