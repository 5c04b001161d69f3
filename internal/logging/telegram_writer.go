package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/richtext"
)

const (
	logChunkLen  = 4000
	logHeader    = "🧾 Логи:\n"
	defaultBatch = 1000
)

// SendFunc отправляет готовое сообщение в канал логов.
type SendFunc func(ctx context.Context, text richtext.FormattedText) error

// TelegramWriter копит строки лога от MinLevel и выше и раз в FlushEvery
// (или при накоплении Batch строк) отправляет их в канал логов блоком кода.
type TelegramWriter struct {
	send     SendFunc
	minLevel zerolog.Level
	batch    int
	every    time.Duration
	fallback io.Writer

	mu     sync.Mutex
	buf    []string
	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

var _ zerolog.LevelWriter = (*TelegramWriter)(nil)

func NewTelegramWriter(send SendFunc, minLevel zerolog.Level, every time.Duration, batch int) *TelegramWriter {
	if batch <= 0 {
		batch = defaultBatch
	}
	if every <= 0 {
		every = constants.TELEGRAM_LOG_FLUSH
	}
	w := &TelegramWriter{
		send:     send,
		minLevel: minLevel,
		batch:    batch,
		every:    every,
		fallback: os.Stderr,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Write нужен для io.Writer; строки без уровня не отправляются.
func (w *TelegramWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *TelegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	line := strings.TrimRight(string(p), "\n")

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	w.buf = append(w.buf, line)
	full := len(w.buf) >= w.batch
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

func (w *TelegramWriter) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-w.kick:
		case <-w.stop:
			w.Flush(context.Background())
			return
		}
		w.Flush(context.Background())
	}
}

// Flush отправляет накопленное. Ошибки отправки пишутся в stderr, а не в лог,
// чтобы не зациклиться.
func (w *TelegramWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	lines := w.buf
	w.buf = nil
	w.mu.Unlock()
	if len(lines) == 0 {
		return
	}

	for _, chunk := range richtext.Split(richtext.Plain(strings.Join(lines, "\n")), logChunkLen, logChunkLen) {
		msg := richtext.Plain(logHeader).Concat(richtext.FormattedText{
			Text:  chunk.Text,
			Spans: []richtext.Span{{Type: "pre", Offset: 0, Length: chunk.Len()}},
		})
		if err := w.send(ctx, msg); err != nil {
			fmt.Fprintf(w.fallback, "telegram log writer: %v\n", err)
		}
	}
}

// Close останавливает фоновую отправку, отправив остаток буфера.
func (w *TelegramWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	<-w.done
	return nil
}
