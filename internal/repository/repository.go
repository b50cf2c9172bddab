package repository

import (
	"context"

	"github.com/egannguyen/go-kafka-social/internal/entity"
)

// EventLog is the durable append-only log of post events.
type EventLog interface {
	// Append persists envelopes for one aggregate. It fails with
	// entity.ErrConcurrency when the stored version is not expectedVersion,
	// leaving the log unchanged.
	Append(ctx context.Context, aggregateID string, expectedVersion int, events []entity.Envelope) error
	// Load returns the ordered history of an aggregate; empty for an unknown id.
	Load(ctx context.Context, aggregateID string) ([]entity.EventStoreRecord, error)
	// Unpublished returns events not yet handed to the transport, ordered by
	// aggregate and version. An empty aggregateID covers every aggregate.
	Unpublished(ctx context.Context, aggregateID string, limit int) ([]entity.EventStoreRecord, error)
	MarkPublished(ctx context.Context, eventIDs []string) error
}

// PostReadRepository handles persistence for the post read model.
type PostReadRepository interface {
	Upsert(ctx context.Context, post entity.PostView) error
	UpdateMessage(ctx context.Context, postID, message string) error
	SetLikes(ctx context.Context, postID string, likes int) error
	Delete(ctx context.Context, postID string) error

	GetByID(ctx context.Context, postID string) (entity.PostView, error)
	ListAll(ctx context.Context) ([]entity.PostView, error)
	ListByAuthor(ctx context.Context, author string) ([]entity.PostView, error)
	ListWithLikes(ctx context.Context, minLikes int) ([]entity.PostView, error)
	// ListWithComments returns only posts that have at least one comment, with comments attached.
	ListWithComments(ctx context.Context) ([]entity.PostView, error)
}

// CommentReadRepository handles persistence for the comment read model.
type CommentReadRepository interface {
	Upsert(ctx context.Context, comment entity.CommentView) error
	Update(ctx context.Context, comment entity.CommentView) error
	Delete(ctx context.Context, commentID string) error
	DeleteByPost(ctx context.Context, postID string) error
	ListByPost(ctx context.Context, postID string) ([]entity.CommentView, error)
}

// Checkpoints tracks, per aggregate, the last event version applied to the read model.
// Entries survive deletion of the read-model rows so late duplicates stay recognisable.
type Checkpoints interface {
	Last(ctx context.Context, aggregateID string) (int, error)
	Advance(ctx context.Context, aggregateID string, version int) error
}
