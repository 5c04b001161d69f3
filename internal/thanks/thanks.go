// Package thanks считает благодарности в целевой группе.
package thanks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/db"
	"medrelay/internal/metrics"
	"medrelay/internal/models"
)

// DefaultWords используются, если файл со словами не задан или не читается.
var DefaultWords = []string{"спасибо", "благодарю", "мерси", "thanks", "thx"}

// Emoji, которые сами по себе считаются благодарностью.
var Emoji = []string{"🙏", "🤝", "❤️", "💐"}

// ReadWords читает по одному слову в строке, пустые строки пропускаются.
func ReadWords(r io.Reader) ([]string, error) {
	var words []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		w := strings.ToLower(strings.TrimSpace(sc.Text()))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// Detector решает, является ли сообщение благодарностью.
type Detector struct {
	words []string
	emoji []string
}

func NewDetector(words []string) *Detector {
	if len(words) == 0 {
		words = DefaultWords
	}
	return &Detector{words: words, emoji: Emoji}
}

// IsThanks: слово, начинающееся с одного из слов благодарности ("спасибочки"), или emoji.
func (d *Detector) IsThanks(text string) bool {
	for _, e := range d.emoji {
		if strings.Contains(text, e) {
			return true
		}
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, f := range fields {
		for _, w := range d.words {
			if strings.HasPrefix(f, w) {
				return true
			}
		}
	}
	return false
}

// Counter увеличивает счётчики и строит топ.
type Counter struct {
	store    db.ThanksStore
	detector *Detector
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewCounter(store db.ThanksStore, detector *Detector, m *metrics.Metrics, log zerolog.Logger) *Counter {
	return &Counter{
		store:    store,
		detector: detector,
		metrics:  m,
		log:      log.With().Str("component", "thanks").Logger(),
	}
}

// Observe засчитывает благодарность автору сообщения, на которое ответили.
// Благодарить самого себя нельзя.
func (c *Counter) Observe(ctx context.Context, text string, fromID, targetID int64, targetName string) (bool, error) {
	if targetID == 0 || targetID == fromID || !c.detector.IsThanks(text) {
		return false, nil
	}
	n, err := c.store.IncrementThanks(ctx, targetID, targetName)
	if err != nil {
		return false, fmt.Errorf("учёт благодарности для %d: %w", targetID, err)
	}
	c.metrics.ObserveThanks()
	c.log.Info().Int64("user_id", targetID).Str("name", targetName).Int("count", n).Msg("+1 благодарность")
	return true, nil
}

// Top возвращает limit участников с наибольшим числом благодарностей.
func (c *Counter) Top(ctx context.Context, limit int) ([]models.ThanksEntry, error) {
	return c.store.TopThanked(ctx, limit)
}

// TopText возвращает текст топа благодарностей.
func (c *Counter) TopText(ctx context.Context, limit int) (string, error) {
	top, err := c.Top(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(top) == 0 {
		return constants.MSG_TOP_THANKS_EMPTY, nil
	}
	var b strings.Builder
	b.WriteString(constants.MSG_TOP_THANKS_HEADER)
	for i, e := range top {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("id %d", e.UserID)
		}
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, name, e.Count)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
