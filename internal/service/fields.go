package service

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/newsimport/internal/model"
)

// Field names an article attribute tracked by the merge.
type Field string

const (
	FieldTitle        Field = "title"
	FieldVolanta      Field = "volanta"
	FieldImage        Field = "image"
	FieldContent      Field = "content"
	FieldDate         Field = "date"
	FieldSection      Field = "section"
	FieldSource       Field = "source"
	FieldCanonicalURL Field = "canonical_url"
	FieldSummary      Field = "summary"
	FieldSentiment    Field = "sentiment"
)

// ChangeSet holds the fields a merge actually changed.
type ChangeSet = mapset.Set[Field]

func NewChangeSet(fields ...Field) ChangeSet {
	return mapset.NewThreadUnsafeSet(fields...)
}

// touches reports whether any of fields is in changes.
func touches(changes ChangeSet, fields ...Field) bool {
	for _, field := range fields {
		if changes.Contains(field) {
			return true
		}
	}
	return false
}

// textField binds a nullable text attribute of an update to its column.
type textField struct {
	field  Field
	column string
	update func(u *ArticleUpdate) *string
	stored func(a *model.Article) **string
}

var textFields = []textField{
	{
		field:  FieldTitle,
		column: "title",
		update: func(u *ArticleUpdate) *string { return u.Title },
		stored: func(a *model.Article) **string { return &a.Title },
	},
	{
		field:  FieldVolanta,
		column: "volanta",
		update: func(u *ArticleUpdate) *string { return u.Volanta },
		stored: func(a *model.Article) **string { return &a.Volanta },
	},
	{
		field:  FieldImage,
		column: "image",
		update: func(u *ArticleUpdate) *string { return u.Image },
		stored: func(a *model.Article) **string { return &a.Image },
	},
	{
		field:  FieldContent,
		column: "content",
		update: func(u *ArticleUpdate) *string { return u.Content },
		stored: func(a *model.Article) **string { return &a.Content },
	},
	{
		field:  FieldCanonicalURL,
		column: "canonical_url",
		update: func(u *ArticleUpdate) *string { return u.CanonicalURL },
		stored: func(a *model.Article) **string { return &a.CanonicalURL },
	},
}

func equal[T comparable](a, b T) bool {
	return a == b
}

// setIfChanged copies src into dst when src is supplied and differs from
// the stored value, and reports whether it did.
func setIfChanged[T any](dst **T, src *T, eq func(a, b T) bool) bool {
	if src == nil {
		return false
	}
	if *dst != nil && eq(**dst, *src) {
		return false
	}

	v := *src
	*dst = &v
	return true
}
