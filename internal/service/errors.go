package service

import "errors"

var (
	// ErrMalformedMessage is returned when an inbound message can never be processed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownArticle is returned when a homepage or reprocess request names an url never ingested.
	ErrUnknownArticle = errors.New("unknown article")
)
