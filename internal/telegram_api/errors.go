package telegram_api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"medrelay/internal/relay"
)

// classify переводит ошибку Bot API в *relay.TransportError.
//
//	429, 5xx, сеть, таймаут       -> временная, RetryAfter из ответа
//	"message is not modified"     -> постоянная, Err = relay.ErrNotModified
//	прочие 4xx                    -> постоянная, Reason = описание от Telegram
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *relay.TransportError
	if errors.As(err, &te) {
		return err
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		out := &relay.TransportError{Op: op, Reason: apiErr.Message, Err: err}
		switch {
		case strings.Contains(apiErr.Message, "message is not modified"):
			out.Permanent = true
			out.Err = relay.ErrNotModified
		case apiErr.Code == http.StatusTooManyRequests:
			out.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
		case apiErr.Code >= 500:
		default:
			out.Permanent = true
		}
		return out
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &relay.TransportError{Op: op, Reason: err.Error(), Err: err}
	}
	// сетевые ошибки и нераспознанные ответы считаем временными
	return &relay.TransportError{Op: op, Err: err}
}
