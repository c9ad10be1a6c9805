package api

import (
	"sync"
)

// Survey is the business payload kept next to a survey's guard record.
// The demo server keeps it in memory.
type Survey struct {
	Title     string   `json:"title"`
	Questions []string `json:"questions"`
	Published bool     `json:"published"`
	Responses int64    `json:"responses"`
}

type surveyBook struct {
	mu      sync.RWMutex
	surveys map[string]*Survey
}

func newSurveyBook() *surveyBook {
	return &surveyBook{surveys: make(map[string]*Survey)}
}

func (b *surveyBook) get(id string) Survey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.surveys[id]; ok {
		out := *s
		out.Questions = append([]string(nil), s.Questions...)
		return out
	}
	return Survey{}
}

// update applies fn to the survey, creating an empty one first if needed
func (b *surveyBook) update(id string, fn func(*Survey)) Survey {
	b.mu.Lock()
	s, ok := b.surveys[id]
	if !ok {
		s = &Survey{}
		b.surveys[id] = s
	}
	fn(s)
	b.mu.Unlock()
	return b.get(id)
}

func (b *surveyBook) delete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.surveys, id)
}
