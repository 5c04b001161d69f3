package relay

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy: явная политика повторов для вызовов транспорта.
// Повторяются только временные ошибки. Attempts <= 1 означает "без повторов".
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// NoRetry: одна попытка.
var NoRetry = RetryPolicy{Attempts: 1}

// Do вызывает fn с учётом политики. Перед каждой попыткой проверяется ctx.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return &TransportError{Op: "context", Reason: ctxErr.Error(), Err: ctxErr}
		}
		err = fn(ctx)
		if err == nil || !IsTransient(err) || i == attempts-1 {
			return err
		}

		wait := p.Backoff * time.Duration(i+1)
		var te *TransportError
		if errors.As(err, &te) && te.RetryAfter > wait {
			wait = te.RetryAfter
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
