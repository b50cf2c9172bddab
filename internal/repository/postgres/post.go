package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

var postColumns = []string{"post_id", "author", "message", "date_posted", "likes"}

type postRepository struct {
	db *sqlx.DB
}

// NewPostRepository creates a new PostReadRepository backed by Postgres.
func NewPostRepository(db *sqlx.DB) repository.PostReadRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Upsert(ctx context.Context, p entity.PostView) error {
	query, args, err := psql.Insert("posts").
		Columns(postColumns...).
		Values(p.PostID, p.Author, p.Message, p.DatePosted, p.Likes).
		Suffix("ON CONFLICT (post_id) DO UPDATE SET author = EXCLUDED.author, message = EXCLUDED.message, date_posted = EXCLUDED.date_posted, likes = EXCLUDED.likes").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build post upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert post %s: %w", p.PostID, err)
	}
	return nil
}

func (r *postRepository) UpdateMessage(ctx context.Context, postID, message string) error {
	return r.update(ctx, postID, psql.Update("posts").Set("message", message))
}

func (r *postRepository) SetLikes(ctx context.Context, postID string, likes int) error {
	return r.update(ctx, postID, psql.Update("posts").Set("likes", likes))
}

func (r *postRepository) update(ctx context.Context, postID string, b sq.UpdateBuilder) error {
	query, args, err := b.Where(sq.Eq{"post_id": postID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build post update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update post %s: %w", postID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: post %s", entity.ErrNotFound, postID)
	}
	return nil
}

// Delete removes the post; comments follow through the foreign key cascade.
func (r *postRepository) Delete(ctx context.Context, postID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM posts WHERE post_id = $1", postID); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", postID, err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (entity.PostView, error) {
	query, args, err := psql.Select(postColumns...).From("posts").Where(sq.Eq{"post_id": postID}).ToSql()
	if err != nil {
		return entity.PostView{}, fmt.Errorf("failed to build post query: %w", err)
	}
	var p entity.PostView
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.PostView{}, fmt.Errorf("%w: post %s", entity.ErrNotFound, postID)
		}
		return entity.PostView{}, fmt.Errorf("failed to get post %s: %w", postID, err)
	}
	comments, err := r.commentsOf(ctx, []string{postID})
	if err != nil {
		return entity.PostView{}, err
	}
	p.Comments = comments[postID]
	return p, nil
}

func (r *postRepository) ListAll(ctx context.Context) ([]entity.PostView, error) {
	return r.list(ctx, r.selectPosts())
}

func (r *postRepository) ListByAuthor(ctx context.Context, author string) ([]entity.PostView, error) {
	return r.list(ctx, r.selectPosts().Where("LOWER(author) = LOWER(?)", author))
}

func (r *postRepository) ListWithLikes(ctx context.Context, minLikes int) ([]entity.PostView, error) {
	return r.list(ctx, r.selectPosts().Where(sq.GtOrEq{"likes": minLikes}))
}

func (r *postRepository) ListWithComments(ctx context.Context) ([]entity.PostView, error) {
	posts, err := r.list(ctx, r.selectPosts().
		Where("EXISTS (SELECT 1 FROM comments c WHERE c.post_id = posts.post_id)"))
	if err != nil || len(posts) == 0 {
		return posts, err
	}
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].PostID
	}
	comments, err := r.commentsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Comments = comments[posts[i].PostID]
	}
	return posts, nil
}

func (r *postRepository) selectPosts() sq.SelectBuilder {
	return psql.Select(postColumns...).From("posts").OrderBy("date_posted DESC", "post_id")
}

func (r *postRepository) list(ctx context.Context, b sq.SelectBuilder) ([]entity.PostView, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build posts query: %w", err)
	}
	var posts []entity.PostView
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	return posts, nil
}

func (r *postRepository) commentsOf(ctx context.Context, postIDs []string) (map[string][]entity.CommentView, error) {
	query, args, err := psql.Select(commentColumns...).
		From("comments").
		Where(sq.Eq{"post_id": postIDs}).
		OrderBy("comment_date", "comment_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build comments query: %w", err)
	}
	var rows []entity.CommentView
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	out := make(map[string][]entity.CommentView, len(postIDs))
	for _, c := range rows {
		out[c.PostID] = append(out[c.PostID], c)
	}
	return out, nil
}
