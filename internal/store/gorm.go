package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/emrgen/newsimport/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrRecordUnavailable, op, err)
}

func (g *GormStore) EnsureArticle(ctx context.Context, url string) error {
	article := &model.Article{URL: url, SummaryState: model.SummaryUnrequested}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(article).Error
	return unavailable("ensure article", err)
}

// LockArticle takes a row lock on postgres so concurrent merges of the same
// url serialize. sqlite has a single writer and needs no row lock.
func (g *GormStore) LockArticle(ctx context.Context, url string) (*model.Article, error) {
	query := g.db.WithContext(ctx)
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	return g.loadArticle(ctx, query, url)
}

func (g *GormStore) GetArticle(ctx context.Context, url string) (*model.Article, error) {
	return g.loadArticle(ctx, g.db.WithContext(ctx), url)
}

func (g *GormStore) loadArticle(ctx context.Context, query *gorm.DB, url string) (*model.Article, error) {
	var article model.Article
	err := query.Where("url = ?", url).Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, unavailable("load article", err)
	}

	if article.SectionID != nil {
		var section model.Section
		if err := g.db.WithContext(ctx).Where("id = ?", *article.SectionID).Take(&section).Error; err != nil {
			return nil, unavailable("load section", err)
		}
		article.Section = &section
	}

	if article.SourceID != nil {
		var source model.Source
		if err := g.db.WithContext(ctx).Where("id = ?", *article.SourceID).Take(&source).Error; err != nil {
			return nil, unavailable("load source", err)
		}
		article.Source = &source
	}

	return &article, nil
}

func (g *GormStore) UpdateArticle(ctx context.Context, url string, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}

	res := g.db.WithContext(ctx).Model(&model.Article{}).Where("url = ?", url).Updates(columns)
	if res.Error != nil {
		return unavailable("update article", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrArticleNotFound
	}

	return nil
}

func (g *GormStore) UpsertAnswer(ctx context.Context, url string, answer string) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"answer", "updated_at"}),
		}).
		Create(&model.Answer{URL: url, Answer: answer}).Error
	return unavailable("upsert answer", err)
}

// MarkSummaryPending moves an unrequested or pending summary to pending and
// stamps the request time. Completed summaries are left alone.
func (g *GormStore) MarkSummaryPending(ctx context.Context, url string, at time.Time) error {
	err := g.db.WithContext(ctx).Model(&model.Article{}).
		Where("url = ? AND summary_state <> ?", url, model.SummaryCompleted).
		Updates(map[string]any{
			"summary_state":        model.SummaryPending,
			"summary_requested_at": at.UTC(),
		}).Error
	return unavailable("mark summary pending", err)
}

type candidateRow struct {
	EffectiveURL string `gorm:"column:effective_url"`
	URL          string `gorm:"column:url"`
	Title        string `gorm:"column:title"`
}

// ListDedupCandidates returns titled articles from other sources dated in
// [date-window, date). Candidates already resolved to a canonical article
// are reported under their canonical url, each url at most once.
func (g *GormStore) ListDedupCandidates(ctx context.Context, target *model.Article, window time.Duration) ([]Candidate, error) {
	if target.Date == nil || target.SourceID == nil {
		return nil, nil
	}

	upper := target.Date.UTC()
	lower := upper.Add(-window)

	query, args, err := sq.Select("COALESCE(canonical_url, url) AS effective_url", "url", "title").
		From(model.Article{}.TableName()).
		Where(sq.NotEq{"url": target.URL}).
		Where(sq.NotEq{"title": nil}).
		Where(sq.NotEq{"source_id": *target.SourceID}).
		Where(sq.GtOrEq{"date": lower}).
		Where(sq.Lt{"date": upper}).
		OrderBy("effective_url ASC", "url ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build dedup query: %w", err)
	}

	var rows []candidateRow
	if err := g.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, unavailable("list dedup candidates", err)
	}

	// one candidate per effective url, not per row; rows that resolve to the
	// target itself are left out
	candidates := make([]Candidate, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.EffectiveURL == target.URL {
			continue
		}
		if _, ok := seen[row.EffectiveURL]; ok {
			continue
		}
		seen[row.EffectiveURL] = struct{}{}
		candidates = append(candidates, Candidate{URL: row.EffectiveURL, Title: row.Title})
	}

	return candidates, nil
}

func (g *GormStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var urls []string
	err := g.db.WithContext(ctx).Model(&model.Article{}).
		Where("summary_state = ? AND summary_requested_at < ?", model.SummaryPending, before.UTC()).
		Order("summary_requested_at ASC").
		Limit(limit).
		Pluck("url", &urls).Error
	if err != nil {
		return nil, unavailable("list stale pending", err)
	}

	return urls, nil
}

func (g *GormStore) EnsureSection(ctx context.Context, name string) (*model.Section, error) {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&model.Section{Name: name}).Error
	if err != nil {
		return nil, unavailable("ensure section", err)
	}

	var section model.Section
	if err := g.db.WithContext(ctx).Where("name = ?", name).Take(&section).Error; err != nil {
		return nil, unavailable("load section", err)
	}

	return &section, nil
}

func (g *GormStore) EnsureSource(ctx context.Context, name string) (*model.Source, error) {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&model.Source{Name: name}).Error
	if err != nil {
		return nil, unavailable("ensure source", err)
	}

	var source model.Source
	if err := g.db.WithContext(ctx).Where("name = ?", name).Take(&source).Error; err != nil {
		return nil, unavailable("load source", err)
	}

	return &source, nil
}

func (g *GormStore) ClearPositions(ctx context.Context, source string) error {
	sources := g.db.WithContext(ctx).Model(&model.Source{}).Select("id").Where("name = ?", source)
	err := g.db.WithContext(ctx).Model(&model.Article{}).
		Where("source_id IN (?) AND position IS NOT NULL", sources).
		Update("position", nil).Error
	return unavailable("clear positions", err)
}

func (g *GormStore) SetPosition(ctx context.Context, source, url string, position int) error {
	sources := g.db.WithContext(ctx).Model(&model.Source{}).Select("id").Where("name = ?", source)
	res := g.db.WithContext(ctx).Model(&model.Article{}).
		Where("url = ? AND source_id IN (?)", url, sources).
		Update("position", position)
	if res.Error != nil {
		return unavailable("set position", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrArticleNotFound
	}

	return nil
}

func (g *GormStore) TouchRefresh(ctx context.Context, at time.Time) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"time"}),
		}).
		Create(&model.Refresh{ID: model.RefreshRowID, Time: at.UTC()}).Error
	return unavailable("touch refresh", err)
}

func (g *GormStore) LastRefresh(ctx context.Context) (time.Time, error) {
	var refresh model.Refresh
	err := g.db.WithContext(ctx).Where("id = ?", model.RefreshRowID).Take(&refresh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, unavailable("last refresh", err)
	}

	return refresh.Time, nil
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

// Transaction runs f inside one database transaction. Errors returned by f
// pass through untouched; begin and commit failures are reported as
// ErrRecordUnavailable.
func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	var inner error
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner = f(&GormStore{db: tx})
		return inner
	})
	if err != nil && inner == nil {
		return unavailable("transaction", err)
	}

	return err
}
