package repositories

import "errors"

var (
	// ErrNotFound indicates no image row matches the user and id.
	ErrNotFound = errors.New("image not found")
	// ErrConflict indicates a write collided with a uniqueness constraint.
	ErrConflict = errors.New("image conflict")
)
