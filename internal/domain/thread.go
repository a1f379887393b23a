package domain

import "time"

// Thread is a persisted, identity-owned conversation of ordered items.
type Thread struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
