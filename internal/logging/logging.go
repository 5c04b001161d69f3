// Package logging собирает корневой zerolog-логгер приложения.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options: параметры логгера.
type Options struct {
	Level   string // debug, info, warn, error; по умолчанию info
	Console bool   // человекочитаемый вывод вместо JSON
	File    string // дополнительно писать JSON в файл
}

// New создаёт логгер. extra содержит дополнительные приёмники (например, TelegramWriter).
// Возвращаемая функция закрывает файл лога.
func New(opts Options, extra ...io.Writer) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var out io.Writer = os.Stderr
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}
	writers := []io.Writer{out}
	closer := func() error { return nil }

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("не удалось открыть файл лога %s: %w", opts.File, err)
		}
		writers = append(writers, f)
		closer = f.Close
	}
	writers = append(writers, extra...)

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, closer, nil
}

// ParseLevel разбирает уровень; пустая строка означает info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("некорректный LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
