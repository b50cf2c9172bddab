package entity

import (
	"errors"
	"testing"
)

func newPost(t *testing.T) *PostAggregate {
	t.Helper()
	p, err := CreatePost("post-1", "Ada", "Hello")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

func records(t *testing.T, envs []Envelope) []EventStoreRecord {
	t.Helper()
	out := make([]EventStoreRecord, 0, len(envs))
	for _, env := range envs {
		rec, err := env.Record()
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestCreatePost(t *testing.T) {
	p := newPost(t)
	if p.Version != 1 || !p.Active {
		t.Fatalf("expected version 1 active, got version %d active %v", p.Version, p.Active)
	}
	changes := p.UncommittedChanges()
	if len(changes) != 1 {
		t.Fatalf("expected one event, got %d", len(changes))
	}
	created, ok := changes[0].Payload.(PostCreated)
	if !ok {
		t.Fatalf("expected PostCreated, got %T", changes[0].Payload)
	}
	if created.Author != "Ada" || created.Message != "Hello" {
		t.Fatalf("unexpected payload %+v", created)
	}
	if changes[0].Version != 1 || changes[0].AggregateID != "post-1" || changes[0].Type != TypePostCreated {
		t.Fatalf("unexpected envelope %+v", changes[0])
	}
	if p.OriginalVersion() != 0 {
		t.Fatalf("expected original version 0, got %d", p.OriginalVersion())
	}
}

func TestCreatePostValidation(t *testing.T) {
	cases := []struct{ id, author, message string }{
		{"", "Ada", "Hello"},
		{"post-1", "", "Hello"},
		{"post-1", "Ada", ""},
	}
	for _, c := range cases {
		_, err := CreatePost(c.id, c.author, c.message)
		if !errors.Is(err, ErrInvalidArgument) || !errors.Is(err, ErrValidation) {
			t.Fatalf("CreatePost(%q, %q, %q): expected invalid argument, got %v", c.id, c.author, c.message, err)
		}
	}
}

func TestEditMessage(t *testing.T) {
	p := newPost(t)
	if err := p.EditMessage("Hello, World"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if p.Message != "Hello, World" || p.Version != 2 {
		t.Fatalf("unexpected state %q v%d", p.Message, p.Version)
	}
	if err := p.EditMessage(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(p.UncommittedChanges()) != 2 {
		t.Fatalf("failed edit must not emit an event")
	}
}

func TestInactivePostRejectsMutations(t *testing.T) {
	p := newPost(t)
	if err := p.Delete("Ada"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	before := len(p.UncommittedChanges())

	if err := p.EditMessage("x"); !errors.Is(err, ErrInvalidState) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := p.AddComment("x", "Grace"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if got := len(p.UncommittedChanges()); got != before {
		t.Fatalf("expected no new events, got %d more", got-before)
	}
}

func TestAuthorsKeepRightsOnRemovedPost(t *testing.T) {
	p := newPost(t)
	id, err := p.AddComment("Nice!", "Grace")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := p.Delete("Ada"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := p.EditComment(id, "Nice post!", "Grace"); err != nil {
		t.Fatalf("edit by comment author on removed post: %v", err)
	}
	if err := p.RemoveComment(id, "Grace"); err != nil {
		t.Fatalf("remove by comment author on removed post: %v", err)
	}
	if err := p.Delete("Ada"); err != nil {
		t.Fatalf("second delete by post author: %v", err)
	}
	if p.Active {
		t.Fatalf("post must stay inactive")
	}
	if err := p.Delete("Eve"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized delete on removed post, got %v", err)
	}
}

func TestLikeIsAbsolute(t *testing.T) {
	p := newPost(t)
	for i := 0; i < 3; i++ {
		if err := p.Like(); err != nil {
			t.Fatalf("like: %v", err)
		}
	}
	if p.Likes != 3 {
		t.Fatalf("expected 3 likes, got %d", p.Likes)
	}
	changes := p.UncommittedChanges()
	last := changes[len(changes)-1].Payload.(PostLiked)
	if last.Likes != 3 {
		t.Fatalf("expected event to carry total 3, got %d", last.Likes)
	}
}

func TestCommentOwnership(t *testing.T) {
	p := newPost(t)
	id, err := p.AddComment("Nice!", "Grace")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	before := len(p.UncommittedChanges())

	if err := p.EditComment(id, "hijack", "Eve"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized edit, got %v", err)
	}
	if err := p.RemoveComment(id, "Eve"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized remove, got %v", err)
	}
	if err := p.EditComment("missing", "x", "Grace"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := p.RemoveComment("missing", "Grace"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := p.EditComment(id, "hijack", "GRACE"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("usernames differing in case must not match, got %v", err)
	}
	if err := p.RemoveComment(id, "grace"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("usernames differing in case must not match, got %v", err)
	}
	if err := p.EditComment(id, "", "Grace"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if got := len(p.UncommittedChanges()); got != before {
		t.Fatalf("rejected operations emitted %d events", got-before)
	}

	if err := p.EditComment(id, "Nice post!", "Grace"); err != nil {
		t.Fatalf("edit by author: %v", err)
	}
	c := p.Comments[id]
	if c.Comment != "Nice post!" || !c.Edited {
		t.Fatalf("unexpected comment %+v", c)
	}
	if err := p.RemoveComment(id, "Grace"); err != nil {
		t.Fatalf("remove by author: %v", err)
	}
	if _, ok := p.Comments[id]; ok {
		t.Fatalf("comment still present after removal")
	}
}

func TestDeleteByAuthorOnly(t *testing.T) {
	p, err := CreatePost("post-2", "Bob", "hi")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := p.Delete("Eve"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := p.Delete("bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for case mismatch, got %v", err)
	}
	if !p.Active || len(p.UncommittedChanges()) != 1 {
		t.Fatalf("rejected delete changed the post")
	}
	if err := p.Delete("Bob"); err != nil {
		t.Fatalf("delete by author: %v", err)
	}
	if p.Active {
		t.Fatalf("expected inactive post")
	}
}

func TestRehydrateRoundTrip(t *testing.T) {
	p := newPost(t)
	if err := p.EditMessage("Hello, World"); err != nil {
		t.Fatal(err)
	}
	if err := p.Like(); err != nil {
		t.Fatal(err)
	}
	id, err := p.AddComment("Nice!", "Grace")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.AddComment("Meh", "Eve"); err != nil {
		t.Fatal(err)
	}
	if err := p.EditComment(id, "Nice post!", "Grace"); err != nil {
		t.Fatal(err)
	}
	if err := p.Like(); err != nil {
		t.Fatal(err)
	}

	replayed := NewPostAggregate("post-1")
	if err := replayed.Rehydrate(records(t, p.UncommittedChanges())); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if len(replayed.UncommittedChanges()) != 0 {
		t.Fatalf("replay must not raise events")
	}
	if replayed.Version != p.Version || replayed.Message != p.Message || replayed.Likes != p.Likes ||
		replayed.Author != p.Author || replayed.Active != p.Active || !replayed.DatePosted.Equal(p.DatePosted) {
		t.Fatalf("replayed state differs:\n got %+v\nwant %+v", replayed, p)
	}
	if len(replayed.Comments) != len(p.Comments) {
		t.Fatalf("expected %d comments, got %d", len(p.Comments), len(replayed.Comments))
	}
	for cid, want := range p.Comments {
		got, ok := replayed.Comments[cid]
		if !ok {
			t.Fatalf("comment %s missing after replay", cid)
		}
		if got.Comment != want.Comment || got.Username != want.Username || got.Edited != want.Edited ||
			!got.CommentDate.Equal(want.CommentDate) {
			t.Fatalf("comment %s differs: got %+v want %+v", cid, got, want)
		}
	}
}

func TestRehydrateUnknownEventType(t *testing.T) {
	p := NewPostAggregate("post-1")
	err := p.Rehydrate([]EventStoreRecord{{AggregateID: "post-1", Version: 1, EventType: "PostArchived", Payload: []byte(`{}`)}})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected unknown event type, got %v", err)
	}
}

func TestApplyEventRejectsGap(t *testing.T) {
	p := newPost(t)
	err := p.ApplyEvent(Envelope{AggregateID: "post-1", Version: 3, Type: TypePostLiked, Payload: PostLiked{Likes: 1}})
	if !errors.Is(err, ErrVersionGap) {
		t.Fatalf("expected version gap, got %v", err)
	}
	if p.Likes != 0 {
		t.Fatalf("gap event must not be applied")
	}
}

func TestMarkChangesAsCommitted(t *testing.T) {
	p := newPost(t)
	if err := p.Like(); err != nil {
		t.Fatal(err)
	}
	p.MarkChangesAsCommitted()
	if len(p.UncommittedChanges()) != 0 || p.OriginalVersion() != 2 {
		t.Fatalf("unexpected state after commit: changes %d original %d", len(p.UncommittedChanges()), p.OriginalVersion())
	}
}

func TestRehydrateThroughAggregateInterface(t *testing.T) {
	p := newPost(t)
	if err := p.Like(); err != nil {
		t.Fatal(err)
	}

	var agg Aggregate = NewPostAggregate("post-1")
	if err := Rehydrate(agg, records(t, p.UncommittedChanges())); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if agg.GetAggregateID() != "post-1" || agg.GetVersion() != 2 {
		t.Fatalf("unexpected aggregate %s v%d", agg.GetAggregateID(), agg.GetVersion())
	}

	gap := records(t, p.UncommittedChanges())[1:]
	err := Rehydrate(NewPostAggregate("post-1"), gap)
	if !errors.Is(err, ErrVersionGap) {
		t.Fatalf("expected version gap, got %v", err)
	}
}
