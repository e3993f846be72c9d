package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/newsimport/internal/store"
	"github.com/sirupsen/logrus"
)

// HomepageRanker replaces the front page ordering of a source.
type HomepageRanker struct {
	now func() time.Time
}

func NewHomepageRanker(now func() time.Time) *HomepageRanker {
	if now == nil {
		now = time.Now
	}
	return &HomepageRanker{now: now}
}

// Rank clears every position of source and numbers urls from 0 in order.
// A repeated url keeps its first position. Any url that is not an article of
// source fails the whole ranking; the caller's transaction is expected to
// roll it back.
func (h *HomepageRanker) Rank(ctx context.Context, tx store.Store, source string, urls []string) error {
	logrus.Infof("updating homepage for source %s with %d elements", source, len(urls))

	if err := tx.ClearPositions(ctx, source); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(urls))
	position := 0
	for _, url := range urls {
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}

		err := tx.SetPosition(ctx, source, url, position)
		if errors.Is(err, store.ErrArticleNotFound) {
			return fmt.Errorf("%w: homepage of %s references %s, not an article of that source", ErrUnknownArticle, source, url)
		}
		if err != nil {
			return err
		}
		position++
	}

	return tx.TouchRefresh(ctx, h.now())
}
