package model

import "time"

// Placement records which box an item was put into.
type Placement struct {
	ItemID   int64     `json:"item_id"`
	BoxID    int64     `json:"box_id"`
	State    string    `json:"state"`
	PlacedAt time.Time `json:"placed_at"`
}

// Placement states.
const (
	PlacementInBox   = "in_box"
	PlacementRemoved = "removed"
)

// BoxContents partitions items relative to one box.
type BoxContents struct {
	// InBox holds items currently placed in the box.
	InBox []Item `json:"in_box"`
	// Removed holds items taken out of the box and not placed elsewhere.
	Removed []Item `json:"removed"`
	// Remaining holds items that have never been placed in any box.
	Remaining []Item `json:"remaining"`
}
