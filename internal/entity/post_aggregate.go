package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Comment is a comment as seen by the post aggregate.
type Comment struct {
	ID          string
	Username    string
	Comment     string
	Edited      bool
	CommentDate time.Time
}

var _ Aggregate = (*PostAggregate)(nil)

// PostAggregate manages the state of a post by replaying events.
type PostAggregate struct {
	AggregateBase
	Author     string
	Message    string
	DatePosted time.Time
	Likes      int
	Active     bool
	Comments   map[string]*Comment
}

// NewPostAggregate creates an empty PostAggregate ready for rehydration.
func NewPostAggregate(id string) *PostAggregate {
	return &PostAggregate{
		AggregateBase: AggregateBase{ID: id, Version: 0},
		Comments:      make(map[string]*Comment),
	}
}

// CreatePost creates a new post and raises PostCreated.
func CreatePost(id, author, message string) (*PostAggregate, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: post id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(author) == "" {
		return nil, fmt.Errorf("%w: author is required", ErrInvalidArgument)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ErrInvalidArgument)
	}
	a := NewPostAggregate(id)
	if err := a.raise(PostCreated{Author: author, Message: message, DatePosted: now()}); err != nil {
		return nil, err
	}
	return a, nil
}

// EditMessage replaces the post message.
func (a *PostAggregate) EditMessage(message string) error {
	if !a.Active {
		return fmt.Errorf("%w: cannot edit the message of an inactive post", ErrInvalidState)
	}
	if message == "" {
		return fmt.Errorf("%w: message must not be empty", ErrInvalidArgument)
	}
	return a.raise(MessageUpdated{Message: message})
}

// Like records one more like. Every call is a new like.
func (a *PostAggregate) Like() error {
	return a.raise(PostLiked{Likes: a.Likes + 1})
}

// AddComment adds a comment and returns its generated id.
func (a *PostAggregate) AddComment(comment, username string) (string, error) {
	if !a.Active {
		return "", fmt.Errorf("%w: cannot add a comment to an inactive post", ErrInvalidState)
	}
	if comment == "" {
		return "", fmt.Errorf("%w: comment must not be empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(username) == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	id := uuid.NewString()
	err := a.raise(CommentAdded{CommentID: id, Comment: comment, Username: username, CommentDate: now()})
	if err != nil {
		return "", err
	}
	return id, nil
}

// EditComment rewrites a comment. Only its original author may do so.
func (a *PostAggregate) EditComment(commentID, comment, username string) error {
	c, err := a.comment(commentID)
	if err != nil {
		return err
	}
	if comment == "" {
		return fmt.Errorf("%w: comment must not be empty", ErrInvalidArgument)
	}
	if c.Username != username {
		return fmt.Errorf("%w: comment %s was made by another user", ErrUnauthorized, commentID)
	}
	return a.raise(CommentUpdated{CommentID: commentID, Comment: comment, Username: username, EditDate: now()})
}

// RemoveComment deletes a comment. Only its original author may do so.
func (a *PostAggregate) RemoveComment(commentID, username string) error {
	c, err := a.comment(commentID)
	if err != nil {
		return err
	}
	if c.Username != username {
		return fmt.Errorf("%w: comment %s was made by another user", ErrUnauthorized, commentID)
	}
	return a.raise(CommentRemoved{CommentID: commentID})
}

// Delete removes the post. Only the post author may do so. Usernames are
// compared exactly.
func (a *PostAggregate) Delete(username string) error {
	if a.Author != username {
		return fmt.Errorf("%w: post %s was made by someone else", ErrUnauthorized, a.ID)
	}
	return a.raise(PostRemoved{})
}

func (a *PostAggregate) comment(id string) (*Comment, error) {
	c, ok := a.Comments[id]
	if !ok {
		return nil, fmt.Errorf("%w: comment %s on post %s", ErrNotFound, id, a.ID)
	}
	return c, nil
}

// raise wraps the event into the next envelope, applies it and records it as uncommitted.
func (a *PostAggregate) raise(ev Event) error {
	env := Envelope{
		EventID:     uuid.NewString(),
		AggregateID: a.ID,
		Version:     a.Version + 1,
		Type:        ev.EventType(),
		OccurredAt:  now(),
		Payload:     ev,
	}
	if err := a.ApplyEvent(env); err != nil {
		return err
	}
	a.changes = append(a.changes, env)
	return nil
}

// ApplyEvent mutates the aggregate state based on the event.
func (a *PostAggregate) ApplyEvent(env Envelope) error {
	if err := a.checkNext(env); err != nil {
		return err
	}
	switch e := env.Payload.(type) {
	case PostCreated:
		if a.Version != 0 {
			return fmt.Errorf("%w: post %s created twice", ErrInvalidState, a.ID)
		}
		if a.ID == "" {
			a.ID = env.AggregateID
		}
		a.Author = e.Author
		a.Message = e.Message
		a.DatePosted = e.DatePosted
		a.Active = true
	case MessageUpdated:
		a.Message = e.Message
	case PostLiked:
		a.Likes = e.Likes
	case CommentAdded:
		a.Comments[e.CommentID] = &Comment{
			ID:          e.CommentID,
			Username:    e.Username,
			Comment:     e.Comment,
			CommentDate: e.CommentDate,
		}
	case CommentUpdated:
		c, ok := a.Comments[e.CommentID]
		if !ok {
			return fmt.Errorf("%w: comment %s on post %s", ErrNotFound, e.CommentID, a.ID)
		}
		c.Comment = e.Comment
		c.Edited = true
		c.CommentDate = e.EditDate
	case CommentRemoved:
		delete(a.Comments, e.CommentID)
	case PostRemoved:
		a.Active = false
	default:
		return fmt.Errorf("%w for PostAggregate: %s", ErrUnknownEventType, env.Type)
	}
	a.Version++
	return nil
}

// Rehydrate rebuilds the aggregate from a list of records.
func (a *PostAggregate) Rehydrate(records []EventStoreRecord) error {
	return Rehydrate(a, records)
}

// Exists reports whether the post has been created.
func (a *PostAggregate) Exists() bool {
	return a.Version > 0
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
