package news

import (
	"sort"
	"strings"
)

// DefaultTopics: темы целевой группы и хештеги, по которым в них попадают посты.
var DefaultTopics = map[int][]string{
	24851: {"#юмор", "#хобби", "#отдых"},
	24852: {"#радбез", "#радиационнаябезопасность"},
	24853: {"#соут", "#льготы", "#пенсия"},
	24854: {"#оборудование", "#аппараты"},
	24855: {"#правила", "#навигация", "#важно"},
	24857: {"#образование", "#курсы", "#студентам"},
	24858: {"#сп", "#по", "#soft"},
	24869: {"#клинреки", "#фракционирование", "#QUANTEC"},
	24870: {"#дозиметрия", "#гарантиякачества"},
	34319: {"#вакансия", "#работа"},
	39883: {"#аккредитация", "#нмо"},
}

type topic struct {
	threadID int
	keywords []string
}

// TopicRouter выбирает тему по ключевым словам. Темы проверяются по возрастанию ID,
// побеждает первая тема, ключевое слово которой встретилось в тексте.
type TopicRouter struct {
	topics []topic
}

func NewTopicRouter(table map[int][]string) *TopicRouter {
	r := &TopicRouter{}
	for id, words := range table {
		t := topic{threadID: id}
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				t.keywords = append(t.keywords, w)
			}
		}
		r.topics = append(r.topics, t)
	}
	sort.Slice(r.topics, func(i, j int) bool { return r.topics[i].threadID < r.topics[j].threadID })
	return r
}

// Resolve возвращает ID темы или 0, если ключевых слов нет.
func (r *TopicRouter) Resolve(text string) (int, string) {
	if r == nil {
		return 0, ""
	}
	lowered := strings.ToLower(text)
	for _, t := range r.topics {
		for _, kw := range t.keywords {
			if strings.Contains(lowered, kw) {
				return t.threadID, kw
			}
		}
	}
	return 0, ""
}
