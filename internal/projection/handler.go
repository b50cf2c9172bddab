package projection

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

// Outcome tells whether an event changed the read model.
type Outcome int

const (
	Applied Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "applied"
}

// Handler applies post events to the read model.
type Handler struct {
	posts       repository.PostReadRepository
	comments    repository.CommentReadRepository
	checkpoints repository.Checkpoints
	tracer      trace.Tracer
}

func NewHandler(posts repository.PostReadRepository, comments repository.CommentReadRepository, checkpoints repository.Checkpoints) *Handler {
	return &Handler{
		posts:       posts,
		comments:    comments,
		checkpoints: checkpoints,
		tracer:      otel.Tracer("github.com/egannguyen/go-kafka-social/internal/projection"),
	}
}

// Apply projects one event. Versions at or below the aggregate checkpoint are
// duplicates and skipped; a version beyond checkpoint+1 yields
// entity.ErrVersionGap and nothing is written.
func (h *Handler) Apply(ctx context.Context, env entity.Envelope) (_ Outcome, err error) {
	ctx, span := h.tracer.Start(ctx, "Projection.Apply", trace.WithAttributes(
		attribute.String("event_type", env.Type),
		attribute.String("aggregate_id", env.AggregateID),
		attribute.Int("version", env.Version),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	last, err := h.checkpoints.Last(ctx, env.AggregateID)
	if err != nil {
		return Applied, err
	}
	if env.Version <= last {
		log.WithFields(log.Fields{
			"aggregate_id": env.AggregateID,
			"version":      env.Version,
			"checkpoint":   last,
		}).Debug("Skipping duplicate event")
		return Duplicate, nil
	}
	if env.Version > last+1 {
		return Applied, fmt.Errorf("%w: %s at %d received version %d", entity.ErrVersionGap, env.AggregateID, last, env.Version)
	}

	if err := h.dispatch(ctx, env); err != nil {
		return Applied, err
	}
	if err := h.checkpoints.Advance(ctx, env.AggregateID, env.Version); err != nil {
		return Applied, err
	}
	return Applied, nil
}

func (h *Handler) dispatch(ctx context.Context, env entity.Envelope) error {
	id := env.AggregateID
	switch e := env.Payload.(type) {
	case entity.PostCreated:
		return h.posts.Upsert(ctx, entity.PostView{
			PostID:     id,
			Author:     e.Author,
			Message:    e.Message,
			DatePosted: e.DatePosted,
		})
	case entity.MessageUpdated:
		return missingIsNoop(env, h.posts.UpdateMessage(ctx, id, e.Message))
	case entity.PostLiked:
		return missingIsNoop(env, h.posts.SetLikes(ctx, id, e.Likes))
	case entity.CommentAdded:
		return h.comments.Upsert(ctx, entity.CommentView{
			CommentID:   e.CommentID,
			PostID:      id,
			Username:    e.Username,
			Comment:     e.Comment,
			CommentDate: e.CommentDate,
		})
	case entity.CommentUpdated:
		return missingIsNoop(env, h.comments.Update(ctx, entity.CommentView{
			CommentID:   e.CommentID,
			PostID:      id,
			Username:    e.Username,
			Comment:     e.Comment,
			CommentDate: e.EditDate,
			Edited:      true,
		}))
	case entity.CommentRemoved:
		return h.comments.Delete(ctx, e.CommentID)
	case entity.PostRemoved:
		if err := h.comments.DeleteByPost(ctx, id); err != nil {
			return err
		}
		return h.posts.Delete(ctx, id)
	default:
		return fmt.Errorf("%w: %q for %s v%d", entity.ErrUnknownEventType, env.Type, id, env.Version)
	}
}

// missingIsNoop turns a missing read-model row into a logged no-op.
func missingIsNoop(env entity.Envelope, err error) error {
	if errors.Is(err, entity.ErrNotFound) {
		log.WithError(err).WithFields(log.Fields{
			"aggregate_id": env.AggregateID,
			"version":      env.Version,
			"event_type":   env.Type,
		}).Warn("Read model row missing, event ignored")
		return nil
	}
	return err
}
