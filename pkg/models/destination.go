package models

import "time"

// Destination is a registered export target, identified by an opaque id
type Destination struct {
	ID        string    `db:"id" json:"id"`
	Label     *string   `db:"label" json:"label,omitempty"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
