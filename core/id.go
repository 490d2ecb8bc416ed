package core

import "github.com/google/uuid"

// NewID returns a random identifier for messages and turns.
func NewID() string { return uuid.NewString() }
