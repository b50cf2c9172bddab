package entity

// Command is an intent addressed to a single post. The set of
// implementations is closed to this package.
type Command interface {
	AggregateID() string
	CommandName() string
	postCommand()
}

// CreatePostCommand publishes a new post.
type CreatePostCommand struct {
	PostID  string `json:"post_id"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

func (c CreatePostCommand) AggregateID() string { return c.PostID }
func (CreatePostCommand) CommandName() string   { return "CreatePost" }
func (CreatePostCommand) postCommand()          {}

// EditMessageCommand rewrites the post message.
type EditMessageCommand struct {
	PostID  string `json:"post_id"`
	Message string `json:"message"`
}

func (c EditMessageCommand) AggregateID() string { return c.PostID }
func (EditMessageCommand) CommandName() string   { return "EditMessage" }
func (EditMessageCommand) postCommand()          {}

// LikePostCommand adds one like.
type LikePostCommand struct {
	PostID string `json:"post_id"`
}

func (c LikePostCommand) AggregateID() string { return c.PostID }
func (LikePostCommand) CommandName() string   { return "LikePost" }
func (LikePostCommand) postCommand()          {}

// AddCommentCommand comments on a post.
type AddCommentCommand struct {
	PostID   string `json:"post_id"`
	Comment  string `json:"comment"`
	Username string `json:"username"`
}

func (c AddCommentCommand) AggregateID() string { return c.PostID }
func (AddCommentCommand) CommandName() string   { return "AddComment" }
func (AddCommentCommand) postCommand()          {}

// EditCommentCommand rewrites an existing comment.
type EditCommentCommand struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
	Comment   string `json:"comment"`
	Username  string `json:"username"`
}

func (c EditCommentCommand) AggregateID() string { return c.PostID }
func (EditCommentCommand) CommandName() string   { return "EditComment" }
func (EditCommentCommand) postCommand()          {}

// RemoveCommentCommand removes an existing comment.
type RemoveCommentCommand struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
	Username  string `json:"username"`
}

func (c RemoveCommentCommand) AggregateID() string { return c.PostID }
func (RemoveCommentCommand) CommandName() string   { return "RemoveComment" }
func (RemoveCommentCommand) postCommand()          {}

// DeletePostCommand removes the post.
type DeletePostCommand struct {
	PostID   string `json:"post_id"`
	Username string `json:"username"`
}

func (c DeletePostCommand) AggregateID() string { return c.PostID }
func (DeletePostCommand) CommandName() string   { return "DeletePost" }
func (DeletePostCommand) postCommand()          {}
