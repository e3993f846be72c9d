package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/newsimport/internal/model"
	"github.com/emrgen/newsimport/internal/queue"
	"github.com/emrgen/newsimport/internal/store"
	"github.com/emrgen/newsimport/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Topics names the outbound topics.
type Topics struct {
	Summary      string
	Answer       string
	Deduplicator string
}

func DefaultTopics() Topics {
	return Topics{
		Summary:      "summary_item",
		Answer:       "answer_item",
		Deduplicator: "deduplicator_item",
	}
}

// Ingestor runs one inbound message through merge, routing and publishing
// inside a single store transaction.
type Ingestor struct {
	store     store.Store
	publisher queue.Publisher
	topics    Topics
	merge     *MergeEngine
	dedup     *DedupFinder
	homepage  *HomepageRanker
	metrics   *telemetry.Metrics
	now       func() time.Time
}

type Option func(i *Ingestor)

func WithDedupWindow(window time.Duration) Option {
	return func(i *Ingestor) {
		i.dedup = NewDedupFinder(window)
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(i *Ingestor) {
		i.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
		i.homepage = NewHomepageRanker(now)
	}
}

func NewIngestor(store store.Store, publisher queue.Publisher, topics Topics, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:     store,
		publisher: publisher,
		topics:    topics,
		merge:     NewMergeEngine(),
		dedup:     NewDedupFinder(DefaultDedupWindow),
		homepage:  NewHomepageRanker(time.Now),
		metrics:   telemetry.NewNoopMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Handle processes a message from the item topic. It returns once the
// store transaction has committed or rolled back.
func (i *Ingestor) Handle(ctx context.Context, body []byte) error {
	item, err := DecodeItem(body)
	if err != nil {
		return err
	}

	if item.Homepage != nil {
		return i.store.Transaction(ctx, func(tx store.Store) error {
			return i.homepage.Rank(ctx, tx, item.Homepage.Source, item.Homepage.URLs)
		})
	}

	return i.applyUpdate(ctx, item.Article)
}

// Apply merges a decoded article update and sends the notifications it calls for.
func (i *Ingestor) Apply(ctx context.Context, update *ArticleUpdate) (ChangeSet, error) {
	var changes ChangeSet
	err := i.store.Transaction(ctx, func(tx store.Store) error {
		var article *model.Article
		var err error
		changes, article, err = i.merge.Merge(ctx, tx, update)
		if err != nil {
			return err
		}

		return i.dispatch(ctx, tx, article, Route(changes, article, false))
	})
	if err != nil {
		return nil, err
	}

	for field := range changes.Iter() {
		i.metrics.FieldChanged(ctx, string(field))
	}

	return changes, nil
}

func (i *Ingestor) applyUpdate(ctx context.Context, update *ArticleUpdate) error {
	logrus.Infof("updating article %s", update.URL)
	_, err := i.Apply(ctx, update)
	return err
}

// Reprocess sends every notification the article qualifies for, whether or
// not anything changed and whatever its summary state.
func (i *Ingestor) Reprocess(ctx context.Context, url string) (Plan, error) {
	var plan Plan
	err := i.store.Transaction(ctx, func(tx store.Store) error {
		article, err := tx.LockArticle(ctx, url)
		if errors.Is(err, store.ErrArticleNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownArticle, url)
		}
		if err != nil {
			return err
		}

		plan = Route(NewChangeSet(), article, true)
		return i.dispatch(ctx, tx, article, plan)
	})

	return plan, err
}

// RequestSummary sends the summary request of an article again when its
// summary is still pending, and reports whether it did.
func (i *Ingestor) RequestSummary(ctx context.Context, url string) (bool, error) {
	var sent bool
	err := i.store.Transaction(ctx, func(tx store.Store) error {
		article, err := tx.LockArticle(ctx, url)
		if errors.Is(err, store.ErrArticleNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownArticle, url)
		}
		if err != nil {
			return err
		}
		if article.SummaryState != model.SummaryPending {
			return nil
		}

		plan := Plan{Summarize: hasText(article.Title) && hasText(article.Content)}
		if err := i.dispatch(ctx, tx, article, plan); err != nil {
			return err
		}
		sent = plan.Summarize
		return nil
	})

	return sent, err
}

func (i *Ingestor) dispatch(ctx context.Context, tx store.Store, article *model.Article, plan Plan) error {
	if plan.Dedup {
		item, err := i.dedup.Find(ctx, tx, article)
		if err != nil {
			return err
		}
		if item != nil {
			if err := i.publish(ctx, i.topics.Deduplicator, article.URL, item); err != nil {
				return err
			}
		}
	}

	if plan.Answer {
		item := &AnswerItem{URL: article.URL, Title: *article.Title, Content: *article.Content}
		if err := i.publish(ctx, i.topics.Answer, article.URL, item); err != nil {
			return err
		}
	}

	if plan.Summarize {
		item := &SummaryItem{URL: article.URL, Title: *article.Title, Content: *article.Content}
		if err := i.publish(ctx, i.topics.Summary, article.URL, item); err != nil {
			return err
		}
		if err := tx.MarkSummaryPending(ctx, article.URL, i.now()); err != nil {
			return err
		}
	}

	return nil
}

func (i *Ingestor) publish(ctx context.Context, topic, url string, item any) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}

	if err := i.publisher.Publish(ctx, topic, queue.NewMessage(url, body)); err != nil {
		return err
	}

	logrus.Debugf("published %s for %s", topic, url)
	i.metrics.Trigger(ctx, topic)
	return nil
}
