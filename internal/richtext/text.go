// Package richtext хранит текст вместе с разметкой (entities) и умеет резать его
// на куски под лимиты Telegram, не ломая форматирование и ссылки.
//
// Все смещения и длины считаются в UTF-16 code units, так же как их считает Bot API.
package richtext

import (
	"fmt"
	"unicode/utf16"
)

// Span описывает участок форматирования или ссылку поверх текста.
type Span struct {
	Type          string
	Offset        int
	Length        int
	URL           string
	UserID        int64 // для text_mention
	Language      string
	CustomEmojiID string
}

// End возвращает позицию сразу за концом участка.
func (s Span) End() int {
	return s.Offset + s.Length
}

// FormattedText: текст и упорядоченный набор участков разметки.
type FormattedText struct {
	Text  string
	Spans []Span
}

// Plain создаёт текст без разметки.
func Plain(text string) FormattedText {
	return FormattedText{Text: text}
}

// Len возвращает длину текста в UTF-16 code units.
func (ft FormattedText) Len() int {
	return utf16Len(ft.Text)
}

// IsEmpty сообщает, что текста нет.
func (ft FormattedText) IsEmpty() bool {
	return ft.Text == ""
}

// Slice возвращает кусок [start, end) с пересчитанной разметкой.
// Участки, целиком попавшие в кусок, сдвигаются; пересекающие границу обрезаются;
// лежащие снаружи отбрасываются.
func (ft FormattedText) Slice(start, end int) FormattedText {
	units := encode(ft.Text)
	if start < 0 {
		start = 0
	}
	if end > len(units) {
		end = len(units)
	}
	if start >= end {
		return FormattedText{}
	}
	return ft.sliceUnits(units, start, end)
}

func (ft FormattedText) sliceUnits(units []uint16, start, end int) FormattedText {
	out := FormattedText{Text: string(utf16.Decode(units[start:end]))}
	for _, s := range ft.Spans {
		if s.Length <= 0 {
			continue
		}
		if s.Offset >= start && s.End() <= end {
			s.Offset -= start
			out.Spans = append(out.Spans, s)
			continue
		}
		if s.Offset < end && s.End() > start {
			from := max(s.Offset, start)
			to := min(s.End(), end)
			s.Offset = from - start
			s.Length = to - from
			out.Spans = append(out.Spans, s)
		}
	}
	return out
}

// Concat дописывает other в конец, сдвигая его разметку.
func (ft FormattedText) Concat(other FormattedText) FormattedText {
	if other.IsEmpty() {
		return ft
	}
	shift := ft.Len()
	out := FormattedText{
		Text:  ft.Text + other.Text,
		Spans: make([]Span, 0, len(ft.Spans)+len(other.Spans)),
	}
	out.Spans = append(out.Spans, ft.Spans...)
	for _, s := range other.Spans {
		s.Offset += shift
		out.Spans = append(out.Spans, s)
	}
	return out
}

// Truncate обрезает текст до limit единиц, не разрывая суррогатную пару.
func (ft FormattedText) Truncate(limit int) FormattedText {
	units := encode(ft.Text)
	if len(units) <= limit {
		return ft
	}
	end := boundary(units, 0, limit)
	if end > limit {
		// limit < 2 и первый символ из суррогатной пары: честно отдаём пустой текст
		return FormattedText{}
	}
	return ft.sliceUnits(units, 0, end)
}

// Validate проверяет, что каждый участок лежит внутри текста и имеет положительную длину.
func (ft FormattedText) Validate() error {
	n := ft.Len()
	for i, s := range ft.Spans {
		if s.Offset < 0 || s.Length <= 0 || s.End() > n {
			return fmt.Errorf("span %d (%s) [%d,+%d) вне текста длиной %d", i, s.Type, s.Offset, s.Length, n)
		}
	}
	return nil
}

func encode(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// boundary сдвигает конец окна назад, если он попадает внутрь суррогатной пары.
// Окно никогда не становится пустым.
func boundary(units []uint16, start, end int) int {
	if end >= len(units) {
		return len(units)
	}
	if end > start && isHighSurrogate(units[end-1]) {
		if end-1 > start {
			return end - 1
		}
		return end + 1
	}
	return end
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}
