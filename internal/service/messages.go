package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ArticleUpdate is a partial article. Nil fields are left untouched.
type ArticleUpdate struct {
	URL          string
	Title        *string
	Volanta      *string
	Image        *string
	Content      *string
	Date         *time.Time
	Section      *string
	Source       *string
	CanonicalURL *string
	Summary      *string
	Sentiment    *int16
	Answer       *string
}

// HomepageUpdate is the full front page ordering of one source.
type HomepageUpdate struct {
	Source string
	URLs   []string
}

// Item is a decoded inbound message. Exactly one of the fields is set.
type Item struct {
	Article  *ArticleUpdate
	Homepage *HomepageUpdate
}

type itemEnvelope struct {
	URL          *string   `json:"url"`
	Title        *string   `json:"title"`
	Volanta      *string   `json:"volanta"`
	Image        *string   `json:"image"`
	Content      *string   `json:"content"`
	Date         *string   `json:"date"`
	Section      *string   `json:"section"`
	Source       *string   `json:"source"`
	CanonicalURL *string   `json:"canonical_url"`
	Summary      *string   `json:"summary"`
	Sentiment    *int      `json:"sentiment"`
	Answer       *string   `json:"answer"`
	Homepage     *[]string `json:"homepage"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate reads the date formats producers send. Dates without a zone are UTC.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// DecodeItem parses a message from the item topic.
func DecodeItem(body []byte) (*Item, error) {
	var env itemEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed("decode item: %v", err)
	}

	if env.URL != nil && *env.URL != "" {
		update, err := env.articleUpdate()
		if err != nil {
			return nil, err
		}
		return &Item{Article: update}, nil
	}

	if env.Homepage != nil {
		if env.Source == nil || *env.Source == "" {
			return nil, malformed("homepage without source")
		}
		return &Item{Homepage: &HomepageUpdate{Source: *env.Source, URLs: *env.Homepage}}, nil
	}

	return nil, malformed("item has neither url nor homepage")
}

func (env *itemEnvelope) articleUpdate() (*ArticleUpdate, error) {
	update := &ArticleUpdate{
		URL:          *env.URL,
		Title:        env.Title,
		Volanta:      env.Volanta,
		Image:        env.Image,
		Content:      env.Content,
		Section:      env.Section,
		Source:       env.Source,
		CanonicalURL: env.CanonicalURL,
		Summary:      env.Summary,
		Answer:       env.Answer,
	}

	if env.Date != nil {
		date, err := parseDate(*env.Date)
		if err != nil {
			return nil, malformed("%s: %v", update.URL, err)
		}
		update.Date = &date
	}

	if env.Sentiment != nil {
		if *env.Sentiment < 0 || *env.Sentiment > 4 {
			return nil, malformed("%s: sentiment %d out of range", update.URL, *env.Sentiment)
		}
		sentiment := int16(*env.Sentiment)
		update.Sentiment = &sentiment
	}

	return update, nil
}

// SummaryItem asks the summarization worker for a summary and sentiment.
type SummaryItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AnswerItem asks the answer worker to answer a question headline.
type AnswerItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Alternative struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// DeduplicatorItem proposes possible duplicates of an article.
type DeduplicatorItem struct {
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Alternatives []Alternative `json:"alternatives"`
	CanonicalURL *string       `json:"canonical_url"`
}
