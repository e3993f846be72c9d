package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/newsimport/internal/model"
	"github.com/emrgen/newsimport/internal/store"
)

// MergeEngine applies partial updates to the stored article.
type MergeEngine struct{}

func NewMergeEngine() *MergeEngine {
	return &MergeEngine{}
}

// Merge writes update into the article row inside tx and returns the fields
// whose stored value changed together with the merged article. Writing a
// value equal to the stored one is not a change.
func (m *MergeEngine) Merge(ctx context.Context, tx store.Store, update *ArticleUpdate) (ChangeSet, *model.Article, error) {
	if err := tx.EnsureArticle(ctx, update.URL); err != nil {
		return nil, nil, err
	}

	article, err := tx.LockArticle(ctx, update.URL)
	if errors.Is(err, store.ErrArticleNotFound) {
		return nil, nil, fmt.Errorf("%w: %s vanished after insert", store.ErrRecordUnavailable, update.URL)
	}
	if err != nil {
		return nil, nil, err
	}

	changes := NewChangeSet()
	columns := make(map[string]any)

	if name := deref(update.Section); name != "" {
		section, err := tx.EnsureSection(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if article.SectionName() != section.Name {
			article.SectionID = &section.ID
			article.Section = section
			columns["section_id"] = section.ID
			changes.Add(FieldSection)
		}
	}

	if name := deref(update.Source); name != "" {
		source, err := tx.EnsureSource(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if article.SourceName() != source.Name {
			article.SourceID = &source.ID
			article.Source = source
			columns["source_id"] = source.ID
			changes.Add(FieldSource)
		}
	}

	for _, f := range textFields {
		src := f.update(update)
		if setIfChanged(f.stored(article), src, equal[string]) {
			columns[f.column] = *src
			changes.Add(f.field)
		}
	}

	if setIfChanged(&article.Date, update.Date, time.Time.Equal) {
		columns["date"] = article.Date.UTC()
		changes.Add(FieldDate)
	}

	if setIfChanged(&article.Sentiment, update.Sentiment, equal[int16]) {
		columns["sentiment"] = *article.Sentiment
		changes.Add(FieldSentiment)
	}

	// a supplied summary, even an empty one, completes the summary
	if update.Summary != nil {
		textChanged := setIfChanged(&article.Summary, update.Summary, equal[string])
		if textChanged || article.SummaryState != model.SummaryCompleted {
			article.SummaryState = model.SummaryCompleted
			columns["summary"] = *update.Summary
			columns["summary_state"] = model.SummaryCompleted
			changes.Add(FieldSummary)
		}
	}

	if err := tx.UpdateArticle(ctx, update.URL, columns); err != nil {
		return nil, nil, err
	}

	if update.Answer != nil {
		if err := tx.UpsertAnswer(ctx, update.URL, *update.Answer); err != nil {
			return nil, nil, err
		}
	}

	return changes, article, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
