package service

import (
	"strings"

	"github.com/emrgen/newsimport/internal/model"
)

// Plan lists the downstream notifications a merge calls for.
type Plan struct {
	Dedup     bool
	Answer    bool
	Summarize bool
}

func (p Plan) Empty() bool {
	return !p.Dedup && !p.Answer && !p.Summarize
}

// Route decides which notifications to send for the merged article.
// Forced routing ignores the change set and the summary state, but each
// notification still needs the fields it carries.
func Route(changes ChangeSet, article *model.Article, forced bool) Plan {
	var plan Plan

	if forced || touches(changes, FieldTitle, FieldDate, FieldSource) {
		plan.Dedup = dedupEligible(article)
	}

	if forced || touches(changes, FieldTitle, FieldContent) {
		plan.Answer = hasText(article.Title) && hasText(article.Content) && isQuestion(*article.Title)
	}

	plan.Summarize = hasText(article.Title) && hasText(article.Content) &&
		(forced || article.SummaryState == model.SummaryUnrequested)

	return plan
}

func dedupEligible(article *model.Article) bool {
	return article.Title != nil &&
		article.Date != nil &&
		article.SourceID != nil &&
		article.CanonicalURL == nil
}

func hasText(s *string) bool {
	return s != nil && *s != ""
}

func isQuestion(title string) bool {
	return strings.ContainsAny(title, "?¿")
}
