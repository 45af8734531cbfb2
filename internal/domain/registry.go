package domain

import "time"

// RegistryEntry is a counterparty trust flag, keyed by the provider or venue
// identifier. Only the administrative capability holder may flip the flag.
type RegistryEntry struct {
	ID        string    `json:"id"`
	Trusted   bool      `json:"trusted"`
	UpdatedAt time.Time `json:"updated_at"`
}
