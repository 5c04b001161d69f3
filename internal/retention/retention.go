// Package retention удаляет старые соответствия сообщений и записи о новостях по расписанию cron.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/metrics"
)

// Store: то, что умеет чистить хранилище.
type Store interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
	PurgeNewsOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Options: возраст записей и расписание.
type Options struct {
	MappingAge time.Duration
	NewsAge    time.Duration
	Cron       string // пусто: ежедневно в 03:00 UTC
}

// Result: сколько записей удалено за прогон.
type Result struct {
	Mappings int64 `json:"mappings"`
	News     int64 `json:"news"`
}

// Runner выполняет чистку. Одновременно идёт не больше одного прогона.
type Runner struct {
	store   Store
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger
	mu      sync.Mutex
}

func New(store Store, opts Options, m *metrics.Metrics, log zerolog.Logger) (*Runner, error) {
	if opts.MappingAge <= 0 {
		opts.MappingAge = constants.DEFAULT_MAPPING_RETENTION
	}
	if opts.NewsAge <= 0 {
		opts.NewsAge = constants.DEFAULT_NEWS_RETENTION
	}
	if opts.Cron == "" {
		opts.Cron = constants.DEFAULT_RETENTION_CRON
	}
	if !gronx.IsValid(opts.Cron) {
		return nil, fmt.Errorf("некорректное выражение cron для очистки: %q", opts.Cron)
	}
	return &Runner{
		store:   store,
		opts:    opts,
		metrics: m,
		log:     log.With().Str("component", "retention").Logger(),
	}, nil
}

// RunOnce удаляет записи старше настроенного возраста. Ошибка одной чистки не отменяет другую.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	var errs []error

	n, err := r.store.PurgeOlderThan(ctx, r.opts.MappingAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("очистка соответствий: %w", err))
	} else {
		res.Mappings = n
		r.metrics.ObserveRetention("mappings", n)
	}

	n, err = r.store.PurgeNewsOlderThan(ctx, r.opts.NewsAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("очистка новостей: %w", err))
	} else {
		res.News = n
		r.metrics.ObserveRetention("news", n)
	}

	err = errors.Join(errs...)
	if err != nil {
		r.log.Error().Err(err).Msg("Очистка завершилась с ошибкой")
	} else {
		r.log.Info().Int64("mappings", res.Mappings).Int64("news", res.News).Msg("Очистка выполнена")
	}
	return res, err
}

// Next возвращает время следующего прогона после t.
func (r *Runner) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.opts.Cron, t.UTC(), false)
}

// Run запускает чистку по расписанию и блокируется до отмены ctx.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info().Str("cron", r.opts.Cron).
		Dur("mapping_age", r.opts.MappingAge).
		Dur("news_age", r.opts.NewsAge).
		Msg("Планировщик очистки запущен")
	for {
		next, err := r.Next(time.Now())
		wait := time.Until(next)
		if err != nil {
			r.log.Error().Err(err).Msg("Не удалось вычислить время следующей очистки")
			wait = 30 * time.Second
		}
		timer := time.NewTimer(max(wait, time.Second))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info().Msg("Планировщик очистки остановлен")
			return
		case <-timer.C:
		}
		if err == nil {
			_, _ = r.RunOnce(ctx)
		}
	}
}
