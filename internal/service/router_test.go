package service

import (
	"testing"
	"time"

	"github.com/emrgen/newsimport/internal/model"
	"github.com/emrgen/newsimport/internal/tester"
	"github.com/stretchr/testify/assert"
)

func routedArticle() *model.Article {
	return &model.Article{
		URL:          "https://news.example/a",
		Title:        tester.Ptr("¿Qué pasó con el dólar?"),
		Content:      tester.Ptr("El dólar subió."),
		Date:         tester.Ptr(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		SourceID:     tester.Ptr(uint(1)),
		SummaryState: model.SummaryUnrequested,
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		changes ChangeSet
		article func(a *model.Article)
		forced  bool
		want    Plan
	}{
		{
			name:    "title and content on a question",
			changes: NewChangeSet(FieldTitle, FieldContent),
			want:    Plan{Dedup: true, Answer: true, Summarize: true},
		},
		{
			name:    "image only",
			changes: NewChangeSet(FieldImage),
			article: func(a *model.Article) { a.SummaryState = model.SummaryPending },
			want:    Plan{},
		},
		{
			name:    "nothing changed on an unrequested summary",
			changes: NewChangeSet(),
			want:    Plan{Summarize: true},
		},
		{
			name:    "pending summary is not requested again",
			changes: NewChangeSet(FieldContent),
			article: func(a *model.Article) { a.SummaryState = model.SummaryPending },
			want:    Plan{Answer: true},
		},
		{
			name:    "forced ignores summary state",
			changes: NewChangeSet(),
			article: func(a *model.Article) { a.SummaryState = model.SummaryCompleted },
			forced:  true,
			want:    Plan{Dedup: true, Answer: true, Summarize: true},
		},
		{
			name:    "canonical article is not deduplicated",
			changes: NewChangeSet(FieldDate),
			article: func(a *model.Article) {
				a.CanonicalURL = tester.Ptr("https://news.example/b")
				a.SummaryState = model.SummaryCompleted
			},
			forced: false,
			want:   Plan{},
		},
		{
			name:    "dedup needs a source",
			changes: NewChangeSet(FieldTitle),
			article: func(a *model.Article) {
				a.SourceID = nil
				a.SummaryState = model.SummaryCompleted
			},
			want: Plan{Answer: true},
		},
		{
			name:    "statement title has no answer",
			changes: NewChangeSet(FieldTitle),
			article: func(a *model.Article) {
				a.Title = tester.Ptr("El dólar subió")
				a.SummaryState = model.SummaryCompleted
			},
			want: Plan{Dedup: true},
		},
		{
			name:    "empty content blocks answer and summary",
			changes: NewChangeSet(FieldContent),
			article: func(a *model.Article) { a.Content = tester.Ptr("") },
			want:    Plan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			article := routedArticle()
			if tt.article != nil {
				tt.article(article)
			}
			assert.Equal(t, tt.want, Route(tt.changes, article, tt.forced))
		})
	}
}
