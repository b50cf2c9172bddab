package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

type readStore struct {
	mu       sync.RWMutex
	posts    map[string]entity.PostView
	comments map[string]entity.CommentView
}

// PostRepository is the in-memory post read model.
type PostRepository struct{ s *readStore }

// CommentRepository is the in-memory comment read model.
type CommentRepository struct{ s *readStore }

var (
	_ repository.PostReadRepository    = (*PostRepository)(nil)
	_ repository.CommentReadRepository = (*CommentRepository)(nil)
)

// NewReadModel creates post and comment repositories sharing one store.
func NewReadModel() (*PostRepository, *CommentRepository) {
	s := &readStore{
		posts:    make(map[string]entity.PostView),
		comments: make(map[string]entity.CommentView),
	}
	return &PostRepository{s: s}, &CommentRepository{s: s}
}

func (r *PostRepository) Upsert(_ context.Context, post entity.PostView) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	post.Comments = nil
	r.s.posts[post.PostID] = post
	return nil
}

func (r *PostRepository) UpdateMessage(_ context.Context, postID, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok {
		return fmt.Errorf("%w: post %s", entity.ErrNotFound, postID)
	}
	p.Message = message
	r.s.posts[postID] = p
	return nil
}

func (r *PostRepository) SetLikes(_ context.Context, postID string, likes int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok {
		return fmt.Errorf("%w: post %s", entity.ErrNotFound, postID)
	}
	p.Likes = likes
	r.s.posts[postID] = p
	return nil
}

func (r *PostRepository) Delete(_ context.Context, postID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.posts, postID)
	for id, c := range r.s.comments {
		if c.PostID == postID {
			delete(r.s.comments, id)
		}
	}
	return nil
}

func (r *PostRepository) GetByID(_ context.Context, postID string) (entity.PostView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.posts[postID]
	if !ok {
		return entity.PostView{}, fmt.Errorf("%w: post %s", entity.ErrNotFound, postID)
	}
	p.Comments = r.s.commentsOf(postID)
	return p, nil
}

func (r *PostRepository) ListAll(_ context.Context) ([]entity.PostView, error) {
	return r.s.filter(func(entity.PostView) bool { return true }), nil
}

func (r *PostRepository) ListByAuthor(_ context.Context, author string) ([]entity.PostView, error) {
	return r.s.filter(func(p entity.PostView) bool { return strings.EqualFold(p.Author, author) }), nil
}

func (r *PostRepository) ListWithLikes(_ context.Context, minLikes int) ([]entity.PostView, error) {
	return r.s.filter(func(p entity.PostView) bool { return p.Likes >= minLikes }), nil
}

func (r *PostRepository) ListWithComments(_ context.Context) ([]entity.PostView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.PostView
	for _, p := range r.s.sortedPosts() {
		p.Comments = r.s.commentsOf(p.PostID)
		if len(p.Comments) > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *CommentRepository) Upsert(_ context.Context, c entity.CommentView) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.comments[c.CommentID] = c
	return nil
}

func (r *CommentRepository) Update(_ context.Context, c entity.CommentView) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.comments[c.CommentID]
	if !ok {
		return fmt.Errorf("%w: comment %s", entity.ErrNotFound, c.CommentID)
	}
	cur.Comment = c.Comment
	cur.Edited = c.Edited
	cur.CommentDate = c.CommentDate
	r.s.comments[c.CommentID] = cur
	return nil
}

func (r *CommentRepository) Delete(_ context.Context, commentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.comments, commentID)
	return nil
}

func (r *CommentRepository) DeleteByPost(_ context.Context, postID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, c := range r.s.comments {
		if c.PostID == postID {
			delete(r.s.comments, id)
		}
	}
	return nil
}

func (r *CommentRepository) ListByPost(_ context.Context, postID string) ([]entity.CommentView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.commentsOf(postID), nil
}

// commentsOf expects the caller to hold the lock.
func (s *readStore) commentsOf(postID string) []entity.CommentView {
	var out []entity.CommentView
	for _, c := range s.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CommentDate.Equal(out[j].CommentDate) {
			return out[i].CommentID < out[j].CommentID
		}
		return out[i].CommentDate.Before(out[j].CommentDate)
	})
	return out
}

func (s *readStore) sortedPosts() []entity.PostView {
	out := make([]entity.PostView, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DatePosted.Equal(out[j].DatePosted) {
			return out[i].PostID < out[j].PostID
		}
		return out[i].DatePosted.After(out[j].DatePosted)
	})
	return out
}

func (s *readStore) filter(keep func(entity.PostView) bool) []entity.PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.PostView
	for _, p := range s.sortedPosts() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
