package richtext

// Split режет текст на окна фиксированного размера. Первое окно не длиннее firstLimit
// (подпись к медиа), остальные не длиннее limit (отдельные сообщения).
// firstLimit <= 0 означает, что первое окно подчиняется общему limit.
//
// Склейка Text всех кусков в исходном порядке даёт исходный текст, если он в корректном
// UTF-8: битые байты при подсчёте UTF-16 заменяются на U+FFFD.
// Пустой текст даёт пустой результат.
func Split(ft FormattedText, firstLimit, limit int) []FormattedText {
	units := encode(ft.Text)
	if len(units) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = len(units)
	}
	if firstLimit <= 0 {
		firstLimit = limit
	}

	var chunks []FormattedText
	start := 0
	for start < len(units) {
		size := limit
		if len(chunks) == 0 {
			size = firstLimit
		}
		end := boundary(units, start, min(start+size, len(units)))
		chunks = append(chunks, ft.sliceUnits(units, start, end))
		start = end
	}
	return chunks
}
