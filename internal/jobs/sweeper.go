package jobs

import (
	"context"
	"time"

	"github.com/emrgen/newsimport/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SummaryRequester sends a pending summary request again.
type SummaryRequester interface {
	RequestSummary(ctx context.Context, url string) (bool, error)
}

// PendingSummarySweeper re-sends summary requests that stayed pending for
// too long, for instance because the summarizer lost them.
type PendingSummarySweeper struct {
	store      store.ArticleStore
	requester  SummaryRequester
	schedule   string
	pendingAge time.Duration
	batch      int
	limiter    *rate.Limiter
	timeout    time.Duration
	now        func() time.Time
}

func NewPendingSummarySweeper(store store.ArticleStore, requester SummaryRequester, schedule string, pendingAge time.Duration, batch int, perSecond float64) *PendingSummarySweeper {
	return &PendingSummarySweeper{
		store:      store,
		requester:  requester,
		schedule:   schedule,
		pendingAge: pendingAge,
		batch:      batch,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		timeout:    5 * time.Minute,
		now:        time.Now,
	}
}

func (s *PendingSummarySweeper) Name() string {
	return "pending_summary_sweeper"
}

func (s *PendingSummarySweeper) Schedule() string {
	return s.schedule
}

func (s *PendingSummarySweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	sent, err := s.Sweep(ctx)
	if err != nil {
		logrus.Errorf("sweeping pending summaries: %v", err)
	}
	if sent > 0 {
		logrus.Infof("re-sent %d pending summary requests", sent)
	}
}

// Sweep re-sends up to one batch of stale requests and returns how many
// went out.
func (s *PendingSummarySweeper) Sweep(ctx context.Context) (int, error) {
	urls, err := s.store.ListStalePending(ctx, s.now().Add(-s.pendingAge), s.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, url := range urls {
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, err
		}

		ok, err := s.requester.RequestSummary(ctx, url)
		if err != nil {
			logrus.WithField("url", url).Warnf("re-sending summary request: %v", err)
			continue
		}
		if ok {
			sent++
		}
	}

	return sent, nil
}
