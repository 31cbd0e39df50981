package domain

import "time"

// Trade is the last print observed for a token on the venue.
type Trade struct {
	TokenID   string    `json:"token_id"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
