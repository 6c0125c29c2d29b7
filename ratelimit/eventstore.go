package ratelimit

import (
	"context"
	"time"
)

// EventStore records kick/ban events and answers trailing-window counts for
// one (guild, moderator). Slight over-counting under extreme concurrency is
// acceptable; blocking decisions tolerate it.
type EventStore interface {
	Record(ctx context.Context, guildID, moderatorID, action string, at time.Time) error
	CountSince(ctx context.Context, guildID, moderatorID string, since time.Time) (int, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
