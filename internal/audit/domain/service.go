package domain

import (
	"context"
	"errors"
)

// Entry describes one operator action. Empty actor fields are filled from
// the request context; an entry with no actor at all is attributed to system.
type Entry struct {
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
}

var ErrInvalidAction = errors.New("invalid_action")
