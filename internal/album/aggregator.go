// Package album собирает события одной "пачки" (альбома Telegram с общим media_group_id)
// и отдаёт их дальше одним куском.
package album

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LatePolicy определяет судьбу участника пачки, пришедшего после её выпуска.
type LatePolicy int

const (
	// DropLate: опоздавший участник отбрасывается (поведение по умолчанию).
	DropLate LatePolicy = iota
	// NewBatch: опоздавший участник открывает новую пачку.
	NewBatch
)

// ParseLatePolicy разбирает значение ALBUM_LATE_POLICY.
func ParseLatePolicy(s string) (LatePolicy, error) {
	switch s {
	case "", "drop":
		return DropLate, nil
	case "new_batch":
		return NewBatch, nil
	}
	return DropLate, fmt.Errorf("неизвестная политика опоздавших участников альбома: %q", s)
}

// Key идентифицирует пачку: чат и идентификатор группы медиа.
type Key struct {
	ChatID  int64
	BatchID string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.ChatID, k.BatchID)
}

// Options настраивает окно ожидания.
type Options struct {
	Wait         time.Duration // тишина, после которой пачка считается полной
	MaxWait      time.Duration // верхняя граница ожидания от первого события
	Late         LatePolicy
	TombstoneTTL time.Duration // сколько помнить выпущенную пачку при DropLate
}

// DefaultOptions: 300 мс тишины, не дольше 3 с всего.
func DefaultOptions() Options {
	return Options{
		Wait:         300 * time.Millisecond,
		MaxWait:      3 * time.Second,
		Late:         DropLate,
		TombstoneTTL: time.Minute,
	}
}

// Outcome: что произошло с событием, переданным в Collect.
type Outcome int

const (
	// Released: вызывающий был первым и получил всю пачку.
	Released Outcome = iota
	// Absorbed: событие добавлено в чужую пачку; дальше ничего делать не нужно.
	Absorbed
	// DroppedLate: пачка уже выпущена, событие отброшено.
	DroppedLate
)

func (o Outcome) String() string {
	switch o {
	case Released:
		return "released"
	case Absorbed:
		return "absorbed"
	case DroppedLate:
		return "dropped_late"
	}
	return "unknown"
}

// Batch: выпущенная пачка в порядке поступления.
type Batch[T any] struct {
	TraceID string
	Key     Key
	Items   []T
}

type pending[T any] struct {
	traceID  string
	items    []T
	first    time.Time
	last     time.Time
	released atomic.Bool
}

// Aggregator буферизует события по ключу. Безопасен для конкурентного использования.
type Aggregator[T any] struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	pending    map[Key]*pending[T]
	tombstones map[Key]time.Time // ключ -> до какого момента опоздавшие отбрасываются

	now   func() time.Time
	sleep func(time.Duration)
}

// New создаёт агрегатор. Нулевые поля opts заменяются значениями по умолчанию.
func New[T any](opts Options, log zerolog.Logger) *Aggregator[T] {
	def := DefaultOptions()
	if opts.Wait <= 0 {
		opts.Wait = def.Wait
	}
	if opts.MaxWait < opts.Wait {
		opts.MaxWait = opts.Wait
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = def.TombstoneTTL
	}
	return &Aggregator[T]{
		opts:       opts,
		log:        log.With().Str("component", "album").Logger(),
		pending:    make(map[Key]*pending[T]),
		tombstones: make(map[Key]time.Time),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Collect добавляет событие в пачку key.
//
// Первый вызов для ключа блокируется на окно ожидания и возвращает всю пачку с Released.
// Если за время ожидания пришли новые участники, ожидание продолжается от последнего из них,
// но не дольше MaxWait от первого. Остальные вызовы возвращаются сразу с Absorbed.
// Ожидание не отменяется: начавшись, оно всегда завершается проверкой и выпуском.
func (a *Aggregator[T]) Collect(key Key, item T) (Batch[T], Outcome) {
	a.mu.Lock()
	now := a.now()
	a.sweepTombstones(now)

	if p, ok := a.pending[key]; ok {
		p.items = append(p.items, item)
		p.last = now
		a.mu.Unlock()
		return Batch[T]{}, Absorbed
	}
	if until, ok := a.tombstones[key]; ok && now.Before(until) {
		a.mu.Unlock()
		a.log.Debug().Str("batch", key.String()).Msg("Участник альбома пришёл после выпуска, отброшен")
		return Batch[T]{}, DroppedLate
	}

	p := &pending[T]{
		traceID: uuid.NewString(),
		items:   []T{item},
		first:   now,
		last:    now,
	}
	a.pending[key] = p
	a.mu.Unlock()

	deadline := p.first.Add(a.opts.MaxWait)
	wait := a.opts.Wait
	for {
		a.sleep(wait)

		a.mu.Lock()
		now = a.now()
		quiet := p.last.Add(a.opts.Wait)
		if now.Before(quiet) && now.Before(deadline) {
			next := quiet
			if deadline.Before(next) {
				next = deadline
			}
			wait = next.Sub(now)
			a.mu.Unlock()
			continue
		}

		// Выпускает только тот, кто создал запись, и только один раз.
		if a.pending[key] != p || !p.released.CompareAndSwap(false, true) {
			a.mu.Unlock()
			return Batch[T]{}, Absorbed
		}
		delete(a.pending, key)
		if a.opts.Late == DropLate {
			a.tombstones[key] = now.Add(a.opts.TombstoneTTL)
		}
		items := p.items
		a.mu.Unlock()

		a.log.Debug().
			Str("batch", key.String()).
			Str("trace_id", p.traceID).
			Int("items", len(items)).
			Dur("waited", now.Sub(p.first)).
			Msg("Альбом собран")
		return Batch[T]{TraceID: p.traceID, Key: key, Items: items}, Released
	}
}

// Pending возвращает число пачек, ожидающих выпуска.
func (a *Aggregator[T]) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator[T]) sweepTombstones(now time.Time) {
	for k, until := range a.tombstones {
		if !now.Before(until) {
			delete(a.tombstones, k)
		}
	}
}
