package keel

import "time"

// Entity carries the audit timestamps shared by all persisted keel records.
// Embed it in entity structs; NewEntity stamps both fields with the current
// UTC time.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with CreatedAt and UpdatedAt set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}
