// Package entity defines the core domain entities and validation logic for the application.
// It contains the fundamental business objects such as Feed and Tag, along with
// their validation rules and domain-specific errors.
package entity

import "time"

// Feed represents a single feed item in the system.
// The ID is the natural key: re-inserting a feed with the same ID replaces
// the prior row (upsert semantics), it never duplicates.
type Feed struct {
	ID          string
	Title       string
	Description string
	Link        string
	PubDate     time.Time
	Author      string
	Tags        []string
	CreatedAt   time.Time
}

// Validate checks that the feed record carries the fields required by the
// storage and delivery layers. Malformed records are rejected at the boundary
// instead of failing deep inside storage code.
func (f *Feed) Validate() error {
	if f.ID == "" {
		return &ValidationError{Field: "id", Message: "feed id is required"}
	}
	if f.Title == "" {
		return &ValidationError{Field: "title", Message: "feed title is required"}
	}
	if f.Link == "" {
		return &ValidationError{Field: "link", Message: "feed link is required"}
	}
	return nil
}

// Tag represents a tag attached to one or more feeds.
// Tag names are case-sensitive unique; inserting an existing name is a no-op
// that resolves to the existing row.
type Tag struct {
	ID   int64
	Name string
}
