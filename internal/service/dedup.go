package service

import (
	"context"
	"time"

	"github.com/emrgen/newsimport/internal/model"
	"github.com/emrgen/newsimport/internal/store"
)

const DefaultDedupWindow = 24 * time.Hour

// DedupFinder proposes articles from other sources published shortly
// before a target as possible duplicates.
type DedupFinder struct {
	window time.Duration
}

func NewDedupFinder(window time.Duration) *DedupFinder {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupFinder{window: window}
}

// Find returns the deduplicator request for article, or nil when the
// article cannot be a dedup target.
func (d *DedupFinder) Find(ctx context.Context, tx store.Store, article *model.Article) (*DeduplicatorItem, error) {
	if !dedupEligible(article) {
		return nil, nil
	}

	candidates, err := tx.ListDedupCandidates(ctx, article, d.window)
	if err != nil {
		return nil, err
	}

	alternatives := make([]Alternative, 0, len(candidates))
	for _, c := range candidates {
		alternatives = append(alternatives, Alternative{URL: c.URL, Title: c.Title})
	}

	return &DeduplicatorItem{
		URL:          article.URL,
		Title:        *article.Title,
		Alternatives: alternatives,
		CanonicalURL: article.CanonicalURL,
	}, nil
}
