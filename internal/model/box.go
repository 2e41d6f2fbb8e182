package model

import (
	"bytes"
	"time"
)

// NewID marks an entity that has not been persisted yet. It is never sent to
// the store for lookup.
const NewID int64 = -1

// Box represents a physical storage container.
type Box struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Image       []byte    `json:"-"`
	ImageMime   string    `json:"image_mime,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewBox returns an empty box that has not been persisted.
func NewBox() Box {
	return Box{ID: NewID}
}

// Equal reports whether two boxes hold the same content. Image bytes are
// compared by value; timestamps are ignored.
func (b Box) Equal(other Box) bool {
	return b.ID == other.ID &&
		b.Code == other.Code &&
		b.Name == other.Name &&
		b.Description == other.Description &&
		b.ImageMime == other.ImageMime &&
		bytes.Equal(b.Image, other.Image)
}

// Identity returns the box id.
func (b Box) Identity() int64 { return b.ID }

// WithIdentity returns a copy of the box carrying id.
func (b Box) WithIdentity(id int64) Box {
	b.ID = id
	return b
}

// HasImage reports whether the box carries a photograph.
func (b Box) HasImage() bool {
	return len(b.Image) > 0
}
