package entity

import "time"

// PostView is the queryable projection of a post.
type PostView struct {
	PostID     string        `json:"post_id" db:"post_id"`
	Author     string        `json:"author" db:"author"`
	Message    string        `json:"message" db:"message"`
	DatePosted time.Time     `json:"date_posted" db:"date_posted"`
	Likes      int           `json:"likes" db:"likes"`
	Comments   []CommentView `json:"comments,omitempty" db:"-"`
}

// CommentView is the queryable projection of a comment.
type CommentView struct {
	CommentID   string    `json:"comment_id" db:"comment_id"`
	PostID      string    `json:"post_id" db:"post_id"`
	Username    string    `json:"username" db:"username"`
	Comment     string    `json:"comment" db:"comment"`
	CommentDate time.Time `json:"comment_date" db:"comment_date"`
	Edited      bool      `json:"edited" db:"edited"`
}
