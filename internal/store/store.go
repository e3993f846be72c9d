package store

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/newsimport/internal/model"
)

var (
	// ErrArticleNotFound is returned when no article row matches a url.
	ErrArticleNotFound = errors.New("article not found")
	// ErrRecordUnavailable wraps failures talking to the database.
	ErrRecordUnavailable = errors.New("record store unavailable")
)

// Candidate is a possible duplicate of another article.
type Candidate struct {
	URL   string
	Title string
}

type Store interface {
	ArticleStore
	LookupStore
	HomepageStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type ArticleStore interface {
	// EnsureArticle inserts an empty article for url unless one exists.
	EnsureArticle(ctx context.Context, url string) error
	// LockArticle loads an article and holds its row lock until the transaction ends.
	LockArticle(ctx context.Context, url string) (*model.Article, error)
	// GetArticle loads an article without locking it.
	GetArticle(ctx context.Context, url string) (*model.Article, error)
	// UpdateArticle writes the given columns of an article.
	UpdateArticle(ctx context.Context, url string, columns map[string]any) error
	// UpsertAnswer creates or replaces the answer of an article.
	UpsertAnswer(ctx context.Context, url string, answer string) error
	// MarkSummaryPending flags an unrequested summary as pending.
	MarkSummaryPending(ctx context.Context, url string, at time.Time) error
	// ListDedupCandidates returns articles of other sources published in the window before target.
	ListDedupCandidates(ctx context.Context, target *model.Article, window time.Duration) ([]Candidate, error)
	// ListStalePending returns urls whose summary has been pending since before the given time.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type LookupStore interface {
	// EnsureSection returns the section named name, creating it on first use.
	EnsureSection(ctx context.Context, name string) (*model.Section, error)
	// EnsureSource returns the source named name, creating it on first use.
	EnsureSource(ctx context.Context, name string) (*model.Source, error)
}

type HomepageStore interface {
	// ClearPositions removes every article of a source from its homepage.
	ClearPositions(ctx context.Context, source string) error
	// SetPosition places an article on the homepage of source. Articles of
	// other sources are reported as ErrArticleNotFound.
	SetPosition(ctx context.Context, source, url string, position int) error
	// TouchRefresh overwrites the last refreshed timestamp.
	TouchRefresh(ctx context.Context, at time.Time) error
	// LastRefresh reads the last refreshed timestamp.
	LastRefresh(ctx context.Context) (time.Time, error)
}
