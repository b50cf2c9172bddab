package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

var commentColumns = []string{"comment_id", "post_id", "username", "comment", "comment_date", "edited"}

type commentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates a new CommentReadRepository backed by Postgres.
func NewCommentRepository(db *sqlx.DB) repository.CommentReadRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Upsert(ctx context.Context, c entity.CommentView) error {
	query, args, err := psql.Insert("comments").
		Columns(commentColumns...).
		Values(c.CommentID, c.PostID, c.Username, c.Comment, c.CommentDate, c.Edited).
		Suffix("ON CONFLICT (comment_id) DO UPDATE SET comment = EXCLUDED.comment, comment_date = EXCLUDED.comment_date, edited = EXCLUDED.edited").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build comment upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert comment %s: %w", c.CommentID, err)
	}
	return nil
}

func (r *commentRepository) Update(ctx context.Context, c entity.CommentView) error {
	query, args, err := psql.Update("comments").
		Set("comment", c.Comment).
		Set("edited", c.Edited).
		Set("comment_date", c.CommentDate).
		Where(sq.Eq{"comment_id": c.CommentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build comment update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update comment %s: %w", c.CommentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update comment %s: %w", c.CommentID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: comment %s", entity.ErrNotFound, c.CommentID)
	}
	return nil
}

func (r *commentRepository) Delete(ctx context.Context, commentID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM comments WHERE comment_id = $1", commentID); err != nil {
		return fmt.Errorf("failed to delete comment %s: %w", commentID, err)
	}
	return nil
}

func (r *commentRepository) DeleteByPost(ctx context.Context, postID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM comments WHERE post_id = $1", postID); err != nil {
		return fmt.Errorf("failed to delete comments of post %s: %w", postID, err)
	}
	return nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]entity.CommentView, error) {
	query, args, err := psql.Select(commentColumns...).
		From("comments").
		Where(sq.Eq{"post_id": postID}).
		OrderBy("comment_date", "comment_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build comments query: %w", err)
	}
	var comments []entity.CommentView
	if err := r.db.SelectContext(ctx, &comments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query comments of post %s: %w", postID, err)
	}
	return comments, nil
}
