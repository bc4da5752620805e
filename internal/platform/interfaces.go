// Package platform holds the collaborators the engine consumes but does not
// own, along with Redis-backed adapters used by the server binary.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrCommentNotFound  = errors.New("comment not found")
)

type Progression interface {
	// AwardPoints is not idempotent; callers guarantee exactly-once.
	AwardPoints(ctx context.Context, playerID string, amount int) (int64, error)
}

type IdentityResolver interface {
	ResolveID(ctx context.Context, displayName string) (string, error)
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, message any) error
}

type Payload map[string]string

type JobScheduler interface {
	Schedule(ctx context.Context, name string, payload Payload, runAt time.Time) (string, error)
	// Cancel is idempotent: unknown or already-fired jobs are not an error.
	Cancel(ctx context.Context, jobID string) error
}

type CommentHost interface {
	CreateComment(ctx context.Context, challengeID, text string) (string, error)
	EditComment(ctx context.Context, commentID, text string) error
}

type MetadataStore interface {
	// ReadMetadata returns nil, nil when the post carries no payload.
	ReadMetadata(ctx context.Context, challengeID string) ([]byte, error)
	WriteMetadata(ctx context.Context, challengeID string, payload []byte) error
}

type WordVisibility interface {
	ShouldRevealGuess(ctx context.Context, normalizedWord string) (bool, error)
}

type Moderators interface {
	IsModerator(ctx context.Context, userID string) (bool, error)
}
