package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/pkg/retry"
)

// Result describes a handled command.
type Result struct {
	AggregateID string
	Version     int
	// CommentID is set for AddComment.
	CommentID string
	Events    []entity.Envelope
}

// CommandService runs one command at a time against a freshly rehydrated
// aggregate. It keeps no state between commands.
type CommandService struct {
	store  *EventStore
	tracer trace.Tracer
}

func NewCommandService(store *EventStore) *CommandService {
	return &CommandService{
		store:  store,
		tracer: otel.Tracer("github.com/egannguyen/go-kafka-social/internal/service"),
	}
}

// Handle loads history, rehydrates, invokes exactly one operation and
// appends the resulting events with the pre-mutation version. A concurrent
// writer surfaces as entity.ErrConcurrency; retrying is up to the caller.
func (s *CommandService) Handle(ctx context.Context, cmd entity.Command) (res Result, err error) {
	id := cmd.AggregateID()
	ctx, span := s.tracer.Start(ctx, "CommandService.Handle", trace.WithAttributes(
		attribute.String("command", cmd.CommandName()),
		attribute.String("aggregate_id", id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if id == "" {
		return Result{}, fmt.Errorf("%w: post id is required", entity.ErrInvalidArgument)
	}

	logger := log.WithFields(log.Fields{"command": cmd.CommandName(), "aggregate_id": id})
	logger.Debug("Handling command")

	agg, err := s.store.LoadAggregate(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var commentID string
	switch c := cmd.(type) {
	case entity.CreatePostCommand:
		if agg.Exists() {
			return Result{}, fmt.Errorf("%w: post %s", entity.ErrAlreadyExists, id)
		}
		agg, err = entity.CreatePost(c.PostID, c.Author, c.Message)
	default:
		if !agg.Exists() {
			return Result{}, fmt.Errorf("%w: post %s", entity.ErrNotFound, id)
		}
		commentID, err = apply(agg, cmd)
	}
	if err != nil {
		return Result{}, err
	}

	changes := agg.UncommittedChanges()
	if err := s.store.Append(ctx, id, agg.OriginalVersion(), changes); err != nil {
		return Result{}, err
	}
	agg.MarkChangesAsCommitted()

	logger.WithField("version", agg.Version).Info("Command handled")
	return Result{
		AggregateID: id,
		Version:     agg.Version,
		CommentID:   commentID,
		Events:      changes,
	}, nil
}

// apply dispatches a non-creation command to its aggregate operation.
func apply(agg *entity.PostAggregate, cmd entity.Command) (string, error) {
	switch c := cmd.(type) {
	case entity.EditMessageCommand:
		return "", agg.EditMessage(c.Message)
	case entity.LikePostCommand:
		return "", agg.Like()
	case entity.AddCommentCommand:
		return agg.AddComment(c.Comment, c.Username)
	case entity.EditCommentCommand:
		return "", agg.EditComment(c.CommentID, c.Comment, c.Username)
	case entity.RemoveCommentCommand:
		return "", agg.RemoveComment(c.CommentID, c.Username)
	case entity.DeletePostCommand:
		return "", agg.Delete(c.Username)
	default:
		return "", fmt.Errorf("%w: unsupported command %s", entity.ErrInvalidArgument, cmd.CommandName())
	}
}

// HandleWithRetry reloads and reapplies cmd when it loses a concurrency
// race, up to attempts tries. Any other error is returned immediately.
func (s *CommandService) HandleWithRetry(ctx context.Context, cmd entity.Command, attempts uint) (Result, error) {
	if attempts == 0 {
		attempts = 1
	}
	var res Result
	policy := retry.Policy{Initial: 10 * time.Millisecond, Max: 200 * time.Millisecond, Multiplier: 2, MaxTries: attempts}
	err := retry.Do(ctx, policy, cmd.CommandName(), func() error {
		var err error
		res, err = s.Handle(ctx, cmd)
		if err != nil && !errors.Is(err, entity.ErrConcurrency) {
			return retry.Permanent(err)
		}
		return err
	})
	return res, err
}
