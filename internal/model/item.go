package model

import (
	"bytes"
	"time"
)

// Item represents a physical object that may be placed inside a box.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Image       []byte    `json:"-"`
	ImageMime   string    `json:"image_mime,omitempty"`
	Consumable  bool      `json:"consumable"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewItem returns an empty item that has not been persisted.
func NewItem() Item {
	return Item{ID: NewID}
}

// Equal reports whether two items hold the same content.
func (i Item) Equal(other Item) bool {
	return i.ID == other.ID &&
		i.Name == other.Name &&
		i.Description == other.Description &&
		i.Consumable == other.Consumable &&
		i.ImageMime == other.ImageMime &&
		bytes.Equal(i.Image, other.Image)
}

func (i Item) Identity() int64 { return i.ID }

func (i Item) WithIdentity(id int64) Item {
	i.ID = id
	return i
}

// HasImage reports whether the item carries a photograph.
func (i Item) HasImage() bool {
	return len(i.Image) > 0
}
