package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/emrgen/newsimport/internal/model"
	"github.com/emrgen/newsimport/internal/queue"
	"github.com/emrgen/newsimport/internal/store"
	"github.com/emrgen/newsimport/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	store    *store.GormStore
	broker   *queue.MemoryBroker
	ingestor *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := tester.TestDB(t)
	st := store.NewGormStore(db)
	broker := queue.NewMemoryBroker()
	ingestor := NewIngestor(st, broker, DefaultTopics(), WithClock(func() time.Time { return testNow }))

	return &fixture{db: db, store: st, broker: broker, ingestor: ingestor}
}

func (f *fixture) handle(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, f.ingestor.Handle(context.Background(), []byte(body)))
}

func (f *fixture) apply(t *testing.T, update *ArticleUpdate) ChangeSet {
	t.Helper()
	changes, err := f.ingestor.Apply(context.Background(), update)
	require.NoError(t, err)
	return changes
}

func (f *fixture) article(t *testing.T, url string) *model.Article {
	t.Helper()
	article, err := f.store.GetArticle(context.Background(), url)
	require.NoError(t, err)
	return article
}

func (f *fixture) count(topic, url string) int {
	n := 0
	for _, msg := range f.broker.Published(topic) {
		if msg.Key == url {
			n++
		}
	}
	return n
}

func (f *fixture) lastDedup(t *testing.T, url string) DeduplicatorItem {
	t.Helper()

	var item DeduplicatorItem
	found := false
	for _, msg := range f.broker.Published("deduplicator_item") {
		if msg.Key == url {
			require.NoError(t, json.Unmarshal(msg.Body, &item))
			found = true
		}
	}
	require.True(t, found, "no deduplicator_item for %s", url)
	return item
}

func fullUpdate(url string) *ArticleUpdate {
	return &ArticleUpdate{
		URL:     url,
		Title:   tester.Ptr("¿Sube la inflación?"),
		Content: tester.Ptr("Los precios subieron un 4% en febrero."),
		Date:    tester.Ptr(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Source:  tester.Ptr("clarin"),
		Section: tester.Ptr("economia"),
	}
}

func TestIngestor_FirstUpdateTriggersEverything(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/inflacion"

	changes := f.apply(t, fullUpdate(url))
	assert.True(t, changes.Equal(NewChangeSet(FieldTitle, FieldContent, FieldDate, FieldSource, FieldSection)))

	assert.Equal(t, 1, f.count("summary_item", url))
	assert.Equal(t, 1, f.count("answer_item", url))
	assert.Equal(t, 1, f.count("deduplicator_item", url))

	var summary SummaryItem
	require.NoError(t, json.Unmarshal(f.broker.Published("summary_item")[0].Body, &summary))
	assert.Equal(t, SummaryItem{URL: url, Title: "¿Sube la inflación?", Content: "Los precios subieron un 4% en febrero."}, summary)

	article := f.article(t, url)
	assert.Equal(t, model.SummaryPending, article.SummaryState)
	require.NotNil(t, article.SummaryRequestedAt)
	assert.True(t, testNow.Equal(*article.SummaryRequestedAt))
	assert.Equal(t, "clarin", article.SourceName())
	assert.Equal(t, "economia", article.SectionName())
}

func TestIngestor_Idempotence(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/inflacion"

	f.apply(t, fullUpdate(url))
	published := len(f.broker.Published("summary_item")) +
		len(f.broker.Published("answer_item")) +
		len(f.broker.Published("deduplicator_item"))

	changes := f.apply(t, fullUpdate(url))
	assert.Equal(t, 0, changes.Cardinality())

	again := len(f.broker.Published("summary_item")) +
		len(f.broker.Published("answer_item")) +
		len(f.broker.Published("deduplicator_item"))
	assert.Equal(t, published, again)
}

func TestIngestor_Minimality(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/inflacion"
	f.apply(t, fullUpdate(url))

	changes := f.apply(t, &ArticleUpdate{URL: url, Image: tester.Ptr("https://img.example/1.jpg")})
	assert.True(t, changes.Equal(NewChangeSet(FieldImage)))

	assert.Equal(t, 1, f.count("summary_item", url))
	assert.Equal(t, 1, f.count("answer_item", url))
	assert.Equal(t, 1, f.count("deduplicator_item", url))
}

func TestIngestor_Completeness(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/pregunta"

	changes := f.apply(t, &ArticleUpdate{
		URL:    url,
		Date:   tester.Ptr(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Source: tester.Ptr("lanacion"),
	})
	assert.True(t, changes.Equal(NewChangeSet(FieldDate, FieldSource)))
	assert.Equal(t, 0, f.count("deduplicator_item", url))
	assert.Equal(t, 0, f.count("summary_item", url))

	changes = f.apply(t, &ArticleUpdate{
		URL:     url,
		Title:   tester.Ptr("¿Habrá paro?"),
		Content: tester.Ptr("Los gremios se reúnen hoy."),
		Date:    tester.Ptr(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Source:  tester.Ptr("lanacion"),
	})
	assert.True(t, changes.Equal(NewChangeSet(FieldTitle, FieldContent)))
	assert.Equal(t, 1, f.count("answer_item", url))
	assert.Equal(t, 1, f.count("summary_item", url))
	assert.Equal(t, 1, f.count("deduplicator_item", url))
}

func TestIngestor_SummaryStates(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/inflacion"
	f.apply(t, fullUpdate(url))
	require.Equal(t, model.SummaryPending, f.article(t, url).SummaryState)

	// pending is not requested again by an ordinary update
	f.apply(t, &ArticleUpdate{URL: url, Content: tester.Ptr("Los precios subieron un 5% en febrero.")})
	assert.Equal(t, 1, f.count("summary_item", url))
	assert.Equal(t, 2, f.count("answer_item", url))

	// a forced request always goes out
	plan, err := f.ingestor.Reprocess(context.Background(), url)
	require.NoError(t, err)
	assert.True(t, plan.Summarize)
	assert.Equal(t, 2, f.count("summary_item", url))

	// the worker answers with an empty summary, which still completes it
	changes := f.apply(t, &ArticleUpdate{URL: url, Summary: tester.Ptr(""), Sentiment: tester.Ptr(int16(2))})
	assert.True(t, changes.Equal(NewChangeSet(FieldSummary, FieldSentiment)))

	article := f.article(t, url)
	assert.Equal(t, model.SummaryCompleted, article.SummaryState)
	assert.Equal(t, "", *article.Summary)
	assert.Equal(t, int16(2), *article.Sentiment)

	changes = f.apply(t, &ArticleUpdate{URL: url, Summary: tester.Ptr(""), Sentiment: tester.Ptr(int16(2))})
	assert.Equal(t, 0, changes.Cardinality())

	f.apply(t, &ArticleUpdate{URL: url, Title: tester.Ptr("¿Sube la inflación otra vez?")})
	assert.Equal(t, 2, f.count("summary_item", url))

	// forcing a completed article keeps its summary completed
	_, err = f.ingestor.Reprocess(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("summary_item", url))
	assert.Equal(t, model.SummaryCompleted, f.article(t, url).SummaryState)
}

func TestIngestor_SourceComparedByName(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/a"

	assert.True(t, f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr("clarin")}).Contains(FieldSource))
	assert.False(t, f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr("clarin")}).Contains(FieldSource))
	assert.True(t, f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr("infobae")}).Contains(FieldSource))
	// empty names are ignored
	assert.Equal(t, 0, f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr(""), Section: tester.Ptr("")}).Cardinality())
}

func TestIngestor_Answer(t *testing.T) {
	f := newFixture(t)
	url := "https://news.example/inflacion"

	update := fullUpdate(url)
	update.Answer = tester.Ptr("Sí, un 4%.")
	changes := f.apply(t, update)
	assert.False(t, changes.Contains(Field("answer")))

	var answer model.Answer
	require.NoError(t, f.db.Where("url = ?", url).Take(&answer).Error)
	assert.Equal(t, "Sí, un 4%.", answer.Answer)

	changes = f.apply(t, &ArticleUpdate{URL: url, Answer: tester.Ptr("No.")})
	assert.Equal(t, 0, changes.Cardinality())
	require.NoError(t, f.db.Where("url = ?", url).Take(&answer).Error)
	assert.Equal(t, "No.", answer.Answer)
}

func TestIngestor_DedupWindow(t *testing.T) {
	f := newFixture(t)
	d := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.apply(t, &ArticleUpdate{URL: "b", Title: tester.Ptr("Foo2"), Source: tester.Ptr("Y"), Date: tester.Ptr(d.Add(-12 * time.Hour))})
	f.apply(t, &ArticleUpdate{URL: "c", Title: tester.Ptr("Foo3"), Source: tester.Ptr("Y"), Date: tester.Ptr(d.Add(-48 * time.Hour))})
	f.apply(t, &ArticleUpdate{URL: "same-source", Title: tester.Ptr("Foo4"), Source: tester.Ptr("X"), Date: tester.Ptr(d.Add(-time.Hour))})
	f.apply(t, &ArticleUpdate{URL: "later", Title: tester.Ptr("Foo5"), Source: tester.Ptr("Y"), Date: tester.Ptr(d)})
	f.apply(t, &ArticleUpdate{URL: "a", Title: tester.Ptr("Foo"), Source: tester.Ptr("X"), Date: tester.Ptr(d)})

	item := f.lastDedup(t, "a")
	assert.Equal(t, "a", item.URL)
	assert.Equal(t, "Foo", item.Title)
	assert.Nil(t, item.CanonicalURL)
	assert.Equal(t, []Alternative{{URL: "b", Title: "Foo2"}}, item.Alternatives)
}

func TestIngestor_CanonicalExclusion(t *testing.T) {
	f := newFixture(t)
	d := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.apply(t, &ArticleUpdate{URL: "b", Title: tester.Ptr("Foo2"), Source: tester.Ptr("Y"), Date: tester.Ptr(d.Add(-12 * time.Hour))})
	f.apply(t, &ArticleUpdate{URL: "dup", Title: tester.Ptr("Foo2 bis"), Source: tester.Ptr("Z"), Date: tester.Ptr(d.Add(-6 * time.Hour))})
	f.apply(t, &ArticleUpdate{URL: "dup", CanonicalURL: tester.Ptr("b")})
	f.apply(t, &ArticleUpdate{URL: "a", Title: tester.Ptr("Foo"), Source: tester.Ptr("X"), Date: tester.Ptr(d)})

	item := f.lastDedup(t, "a")
	assert.Equal(t, []Alternative{{URL: "b", Title: "Foo2"}}, item.Alternatives)

	// a resolved duplicate is never a dedup target
	dedups := f.count("deduplicator_item", "dup")
	f.apply(t, &ArticleUpdate{URL: "dup", Title: tester.Ptr("Foo2 ter")})
	_, err := f.ingestor.Reprocess(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, dedups, f.count("deduplicator_item", "dup"))
}

func TestIngestor_Homepage(t *testing.T) {
	f := newFixture(t)
	for _, url := range []string{"u1", "u2", "u3", "u4"} {
		f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr("S")})
	}
	f.apply(t, &ArticleUpdate{URL: "other", Source: tester.Ptr("T")})

	f.handle(t, `{"homepage": ["other"], "source": "T"}`)
	f.handle(t, `{"homepage": ["u4"], "source": "S"}`)
	require.Equal(t, 0, *f.article(t, "u4").Position)

	for i := 0; i < 2; i++ {
		f.handle(t, `{"homepage": ["u1", "u2", "u3"], "source": "S"}`)

		assert.Equal(t, 0, *f.article(t, "u1").Position)
		assert.Equal(t, 1, *f.article(t, "u2").Position)
		assert.Equal(t, 2, *f.article(t, "u3").Position)
		assert.Nil(t, f.article(t, "u4").Position)
		assert.Equal(t, 0, *f.article(t, "other").Position)
	}

	refreshed, err := f.store.LastRefresh(context.Background())
	require.NoError(t, err)
	assert.True(t, testNow.Equal(refreshed))
}

func TestIngestor_HomepageDuplicatesStayDense(t *testing.T) {
	f := newFixture(t)
	for _, url := range []string{"u1", "u2"} {
		f.apply(t, &ArticleUpdate{URL: url, Source: tester.Ptr("S")})
	}

	f.handle(t, `{"homepage": ["u1", "u1", "u2"], "source": "S"}`)
	assert.Equal(t, 0, *f.article(t, "u1").Position)
	assert.Equal(t, 1, *f.article(t, "u2").Position)
}

func TestIngestor_HomepageUnknownArticle(t *testing.T) {
	f := newFixture(t)
	f.apply(t, &ArticleUpdate{URL: "u1", Source: tester.Ptr("S")})
	f.handle(t, `{"homepage": ["u1"], "source": "S"}`)

	err := f.ingestor.Handle(context.Background(), []byte(`{"homepage": ["missing", "u1"], "source": "S"}`))
	assert.ErrorIs(t, err, ErrUnknownArticle)

	// nothing of the rejected homepage was applied
	assert.Equal(t, 0, *f.article(t, "u1").Position)
}

func TestIngestor_HomepageForeignArticle(t *testing.T) {
	f := newFixture(t)
	f.apply(t, &ArticleUpdate{URL: "s1", Source: tester.Ptr("S")})
	f.apply(t, &ArticleUpdate{URL: "t1", Source: tester.Ptr("T")})
	f.apply(t, &ArticleUpdate{URL: "t2", Source: tester.Ptr("T")})
	f.handle(t, `{"homepage": ["s1"], "source": "S"}`)
	f.handle(t, `{"homepage": ["t1", "t2"], "source": "T"}`)

	err := f.ingestor.Handle(context.Background(), []byte(`{"homepage": ["t2", "s1"], "source": "S"}`))
	assert.ErrorIs(t, err, ErrUnknownArticle)

	// T's front page is untouched and S keeps its previous one
	assert.Equal(t, 0, *f.article(t, "t1").Position)
	assert.Equal(t, 1, *f.article(t, "t2").Position)
	assert.Equal(t, 0, *f.article(t, "s1").Position)
}

func TestIngestor_ReprocessUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Reprocess(context.Background(), "https://news.example/missing")
	assert.ErrorIs(t, err, ErrUnknownArticle)
}

func TestIngestor_PublishFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.broker.Close())
	url := "https://news.example/inflacion"

	_, err := f.ingestor.Apply(context.Background(), fullUpdate(url))
	require.ErrorIs(t, err, queue.ErrClosed)
	assert.Equal(t, Retry, Classify(err))

	_, err = f.store.GetArticle(context.Background(), url)
	assert.ErrorIs(t, err, store.ErrArticleNotFound)
}
