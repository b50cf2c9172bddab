package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	fail     bool
	attempts int
	sent     []entity.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env entity.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *recordingPublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *recordingPublisher) versions() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.sent))
	for i, e := range p.sent {
		out[i] = e.Version
	}
	return out
}

type fixture struct {
	log   *memory.EventLog
	pub   *recordingPublisher
	store *EventStore
	svc   *CommandService
}

func newFixture() fixture {
	eventLog := memory.NewEventLog()
	pub := &recordingPublisher{}
	store := NewEventStore(eventLog, pub, "posts")
	return fixture{log: eventLog, pub: pub, store: store, svc: NewCommandService(store)}
}

func TestHandleCreateAndMutate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Version != 1 || len(res.Events) != 1 || res.Events[0].Type != entity.TypePostCreated {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = f.svc.Handle(ctx, entity.AddCommentCommand{PostID: "p1", Comment: "Nice!", Username: "Grace"})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if res.CommentID == "" || res.Version != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := f.svc.Handle(ctx, entity.EditCommentCommand{PostID: "p1", CommentID: res.CommentID, Comment: "Nice post!", Username: "Grace"}); err != nil {
		t.Fatalf("edit comment: %v", err)
	}
	if got := f.pub.versions(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("expected versions 1..3 published in order, got %v", got)
	}
	if pending, _ := f.log.Unpublished(ctx, "", 0); len(pending) != 0 {
		t.Fatalf("expected everything published, %d pending", len(pending))
	}
}

func TestHandleExistenceRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Handle(ctx, entity.LikePostCommand{PostID: "ghost"}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Again"}); !errors.Is(err, entity.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := f.svc.Handle(ctx, entity.LikePostCommand{}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty id, got %v", err)
	}
}

func TestDeleteByOtherUserEmitsNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Bob", Message: "hi"}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Handle(ctx, entity.DeletePostCommand{PostID: "p1", Username: "Eve"})
	if !errors.Is(err, entity.ErrValidation) || !errors.Is(err, entity.ErrUnauthorized) {
		t.Fatalf("expected unauthorized validation error, got %v", err)
	}

	agg, err := f.store.LoadAggregate(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !agg.Active || agg.Version != 1 {
		t.Fatalf("expected untouched active post, got active=%v version=%d", agg.Active, agg.Version)
	}
	for _, env := range f.pub.sent {
		if env.Type == entity.TypePostRemoved {
			t.Fatalf("PostRemoved must not be produced")
		}
	}
}

func TestPublishFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.pub.setFail(true)

	if _, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"}); err != nil {
		t.Fatalf("command must succeed when only publication fails: %v", err)
	}
	if _, err := f.svc.Handle(ctx, entity.LikePostCommand{PostID: "p1"}); err != nil {
		t.Fatalf("like: %v", err)
	}
	pending, _ := f.log.Unpublished(ctx, "", 0)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}

	f.pub.setFail(false)
	relay := NewRelay(f.store, 0, 0)
	n, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	if got := f.pub.versions(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected versions [1 2], got %v", got)
	}
	if n, _ := relay.Flush(ctx); n != 0 {
		t.Fatalf("second flush republished %d events", n)
	}
}

func TestRelayBacksOffThenRecovers(t *testing.T) {
	f := newFixture()
	f.pub.setFail(true)
	if _, err := f.svc.Handle(context.Background(), entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Handle(context.Background(), entity.LikePostCommand{PostID: "p1"}); err != nil {
		t.Fatal(err)
	}
	before := f.pub.attemptCount()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewRelay(f.store, 2*time.Millisecond, 0).Run(ctx) }()

	time.Sleep(80 * time.Millisecond)
	// A fixed 2ms cadence would have tried about 40 times by now.
	if n := f.pub.attemptCount() - before; n == 0 || n > 15 {
		t.Fatalf("expected a handful of backed-off attempts, got %d", n)
	}
	if got := f.pub.versions(); len(got) != 0 {
		t.Fatalf("nothing should be published while the broker is down, got %v", got)
	}

	f.pub.setFail(false)
	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := f.log.Unpublished(context.Background(), "", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay did not recover, %d events pending", len(pending))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.pub.versions(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected versions [1 2], got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relay returned %v on shutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestStaleAppendIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Handle(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"}); err != nil {
		t.Fatal(err)
	}

	a, _ := f.store.LoadAggregate(ctx, "p1")
	b, _ := f.store.LoadAggregate(ctx, "p1")
	if err := a.Like(); err != nil {
		t.Fatal(err)
	}
	if err := b.EditMessage("racing"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Append(ctx, "p1", a.OriginalVersion(), a.UncommittedChanges()); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := f.store.Append(ctx, "p1", b.OriginalVersion(), b.UncommittedChanges())
	if !errors.Is(err, entity.ErrConcurrency) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	recs, _ := f.store.Load(ctx, "p1")
	if len(recs) != 2 || recs[1].EventType != entity.TypePostLiked {
		t.Fatalf("log changed by rejected append: %+v", recs)
	}
}

// conflictOnce fails the first append with a concurrency error.
type conflictOnce struct {
	*memory.EventLog
	once sync.Once
}

func (c *conflictOnce) Append(ctx context.Context, id string, expected int, events []entity.Envelope) error {
	var conflict bool
	c.once.Do(func() { conflict = true })
	if conflict {
		return entity.ErrConcurrency
	}
	return c.EventLog.Append(ctx, id, expected, events)
}

func newConflictingService() *CommandService {
	eventLog := &conflictOnce{EventLog: memory.NewEventLog()}
	return NewCommandService(NewEventStore(eventLog, &recordingPublisher{}, "posts"))
}

func TestHandleSurfacesConflict(t *testing.T) {
	svc := newConflictingService()
	_, err := svc.Handle(context.Background(), entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"})
	if !errors.Is(err, entity.ErrConcurrency) {
		t.Fatalf("plain Handle must surface the conflict, got %v", err)
	}
}

func TestHandleWithRetryReloadsOnConflict(t *testing.T) {
	svc := newConflictingService()
	ctx := context.Background()

	res, err := svc.HandleWithRetry(ctx, entity.CreatePostCommand{PostID: "p1", Author: "Ada", Message: "Hello"}, 3)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Version)
	}
	if _, err := svc.HandleWithRetry(ctx, entity.EditMessageCommand{PostID: "p1"}, 3); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatalf("validation errors must not be retried, got %v", err)
	}
}

func TestAppendRejectsGaps(t *testing.T) {
	f := newFixture()
	env := entity.Envelope{EventID: "e", AggregateID: "p1", Version: 2, Type: entity.TypePostLiked, Payload: entity.PostLiked{Likes: 1}}
	if err := f.store.Append(context.Background(), "p1", 0, []entity.Envelope{env}); !errors.Is(err, entity.ErrVersionGap) {
		t.Fatalf("expected version gap, got %v", err)
	}
}
