package store

import (
	"context"

	"chatcoord/pkg/models"
)

// Persistence adapts the package-level pebble functions to the interface
// the session coordinators consume, honoring context cancellation before
// each write.
type Persistence struct{}

// NewPersistence returns the adapter. The store must be opened first.
func NewPersistence() *Persistence { return &Persistence{} }

func (Persistence) CreateMessage(ctx context.Context, topic string, m models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return m, err
	}
	return SaveMessage(topic, m)
}

func (Persistence) UpdateMessage(ctx context.Context, m models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return UpdateMessage(m)
}

func (Persistence) ListMessages(ctx context.Context, topic string, beforeTS int64, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ListMessages(topic, beforeTS, limit)
}
