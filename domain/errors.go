package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist or has expired.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a primary key is already taken.
	ErrAlreadyExists = errors.New("already exists")
)
