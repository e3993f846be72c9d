package model

import (
	"time"
)

// Article is the canonical record of a single news article, keyed by its url.
// Every content column is nullable: a row may exist as a bare placeholder
// until a producer fills it in.
type Article struct {
	URL                string     `gorm:"primaryKey;not null"`
	Title              *string    `gorm:""`
	Volanta            *string    `gorm:""`
	Image              *string    `gorm:""`
	Content            *string    `gorm:"type:text"`
	Date               *time.Time `gorm:"index:idx_articles_date"`
	SectionID          *uint
	Section            *Section `gorm:"foreignKey:SectionID"`
	SourceID           *uint    `gorm:"index:idx_articles_source_id"`
	Source             *Source  `gorm:"foreignKey:SourceID"`
	CanonicalURL       *string
	Summary            *string
	SummaryState       SummaryState `gorm:"not null;default:unrequested;index:idx_articles_summary_state"`
	SummaryRequestedAt *time.Time
	Sentiment          *int16 `gorm:"type:smallint"`
	Position           *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Article) TableName() string {
	return "articles"
}

// SectionName returns the resolved section name or an empty string.
func (a *Article) SectionName() string {
	if a.Section == nil {
		return ""
	}
	return a.Section.Name
}

// SourceName returns the resolved source name or an empty string.
func (a *Article) SourceName() string {
	if a.Source == nil {
		return ""
	}
	return a.Source.Name
}

// Section is an append-only name lookup.
type Section struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (Section) TableName() string {
	return "sections"
}

// Source is the publisher an article was scraped from.
type Source struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (Source) TableName() string {
	return "sources"
}

// Answer holds the extracted answer for articles whose title is a question.
type Answer struct {
	URL       string `gorm:"primaryKey;not null"`
	Answer    string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Answer) TableName() string {
	return "answers"
}

// Refresh is a single row overwritten each time a homepage is replaced.
// The query API reads it to report data freshness.
type Refresh struct {
	ID   uint      `gorm:"primaryKey"`
	Time time.Time `gorm:"not null"`
}

func (Refresh) TableName() string {
	return "updated"
}

// RefreshRowID is the id of the only row in the updated table.
const RefreshRowID uint = 1
