package entity

import "time"

const (
	TypePostCreated    = "PostCreated"
	TypeMessageUpdated = "MessageUpdated"
	TypePostLiked      = "PostLiked"
	TypeCommentAdded   = "CommentAdded"
	TypeCommentUpdated = "CommentUpdated"
	TypeCommentRemoved = "CommentRemoved"
	TypePostRemoved    = "PostRemoved"
)

// EventTypes lists every event type the service understands.
var EventTypes = []string{
	TypePostCreated,
	TypeMessageUpdated,
	TypePostLiked,
	TypeCommentAdded,
	TypeCommentUpdated,
	TypeCommentRemoved,
	TypePostRemoved,
}

// Event represents a domain event of the post stream. The set of
// implementations is closed to this package.
type Event interface {
	EventType() string
	postEvent()
}

// PostCreated is emitted when a post is published.
type PostCreated struct {
	Author     string    `json:"author"`
	Message    string    `json:"message"`
	DatePosted time.Time `json:"date_posted"`
}

func (e PostCreated) EventType() string { return TypePostCreated }
func (PostCreated) postEvent()          {}

// MessageUpdated is emitted when the author rewrites the post message.
type MessageUpdated struct {
	Message string `json:"message"`
}

func (e MessageUpdated) EventType() string { return TypeMessageUpdated }
func (MessageUpdated) postEvent()          {}

// PostLiked is emitted for every like. Likes holds the total after this like.
type PostLiked struct {
	Likes int `json:"likes"`
}

func (e PostLiked) EventType() string { return TypePostLiked }
func (PostLiked) postEvent()          {}

// CommentAdded is emitted when a user comments on a post.
type CommentAdded struct {
	CommentID   string    `json:"comment_id"`
	Comment     string    `json:"comment"`
	Username    string    `json:"username"`
	CommentDate time.Time `json:"comment_date"`
}

func (e CommentAdded) EventType() string { return TypeCommentAdded }
func (CommentAdded) postEvent()          {}

// CommentUpdated is emitted when a comment author edits their comment.
type CommentUpdated struct {
	CommentID string    `json:"comment_id"`
	Comment   string    `json:"comment"`
	Username  string    `json:"username"`
	EditDate  time.Time `json:"edit_date"`
}

func (e CommentUpdated) EventType() string { return TypeCommentUpdated }
func (CommentUpdated) postEvent()          {}

// CommentRemoved is emitted when a comment author removes their comment.
type CommentRemoved struct {
	CommentID string `json:"comment_id"`
}

func (e CommentRemoved) EventType() string { return TypeCommentRemoved }
func (CommentRemoved) postEvent()          {}

// PostRemoved is emitted when the author deletes the post.
type PostRemoved struct{}

func (e PostRemoved) EventType() string { return TypePostRemoved }
func (PostRemoved) postEvent()          {}
