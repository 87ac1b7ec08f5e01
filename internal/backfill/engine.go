// Package backfill loads a room's message history in pages, newest pages
// first, with a bounded per-attempt timeout and exponential retry.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

// Store is the slice of persistence the engine reads from.
type Store interface {
	LoadMessagesBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]*models.Message, error)
	MarkAsRead(ctx context.Context, roomID, userID string, messageIDs []string) error
}

type Options struct {
	BatchSize      int
	LoadTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Cooldown keeps a (room,user) key busy after a load finishes.
	Cooldown time.Duration
}

const readReceiptTimeout = 5 * time.Second

type key struct {
	roomID string
	userID string
}

type Engine struct {
	store Store
	opts  Options
	log   *slog.Logger

	mu       sync.Mutex
	inflight map[key]struct{}
	retries  map[key]int
}

func NewEngine(store Store, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 30
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	return &Engine{
		store:    store,
		opts:     opts,
		log:      log,
		inflight: make(map[key]struct{}),
		retries:  make(map[key]int),
	}
}

// LoadPage returns up to limit messages strictly older than before, oldest
// first. A second call for the same room and user while one is running, or
// within the cool-down after it, fails with ErrAlreadyLoading.
func (e *Engine) LoadPage(ctx context.Context, roomID, userID string, before *time.Time, limit int) (*models.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required: %w", cerrors.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = e.opts.BatchSize
	}

	k := key{roomID: roomID, userID: userID}
	if !e.acquire(k) {
		return nil, cerrors.ErrAlreadyLoading
	}
	defer e.release(k)

	var page *models.Page
	operation := func() error {
		p, err := e.attempt(ctx, roomID, before, limit)
		if err != nil {
			if ctx.Err() != nil || !cerrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		attempt := e.bumpRetry(k)
		e.log.Warn("backfill_retry", "room_id", roomID, "user_id", userID, "attempt", attempt, "retry_in", wait, "err", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(e.policy(), ctx), notify)
	retried := e.clearRetry(k)
	if err != nil {
		if retried >= e.opts.MaxRetries && cerrors.IsRetryable(err) && ctx.Err() == nil {
			e.log.Error("backfill_exhausted", "room_id", roomID, "user_id", userID, "retries", retried, "err", err)
			return nil, fmt.Errorf("%w: %w", cerrors.ErrRetriesExhausted, err)
		}
		return nil, err
	}

	e.markRead(roomID, userID, page.Messages)
	return page, nil
}

// LoadLatest returns the newest page of a room in one attempt bounded by the
// load timeout. It skips the duplicate-request gate and the retry policy, so
// it never blocks a later LoadPage for the same room and user.
func (e *Engine) LoadLatest(ctx context.Context, roomID, userID string, limit int) (*models.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required: %w", cerrors.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = e.opts.BatchSize
	}

	page, err := e.attempt(ctx, roomID, nil, limit)
	if err != nil {
		return nil, err
	}
	e.markRead(roomID, userID, page.Messages)
	return page, nil
}

func (e *Engine) policy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.RetryBaseDelay
	bo.MaxInterval = e.opts.RetryMaxDelay
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithMaxRetries(bo, uint64(max(e.opts.MaxRetries, 0)))
}

// attempt runs one bounded load. The store call runs on its own goroutine so
// a store that ignores ctx still cannot hold the caller past the timeout.
func (e *Engine) attempt(ctx context.Context, roomID string, before *time.Time, limit int) (*models.Page, error) {
	actx, cancel := context.WithTimeout(ctx, e.opts.LoadTimeout)
	defer cancel()

	type result struct {
		msgs []*models.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		msgs, err := e.store.LoadMessagesBefore(actx, roomID, before, limit+1)
		done <- result{msgs: msgs, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-actx.Done():
		res.err = actx.Err()
	}
	if res.err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", cerrors.ErrLoadTimeout, e.opts.LoadTimeout)
		}
		return nil, res.err
	}
	return buildPage(res.msgs, limit), nil
}

// buildPage turns a newest-first batch of up to limit+1 rows into a
// chronological page.
func buildPage(newestFirst []*models.Message, limit int) *models.Page {
	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}
	msgs := slices.Clone(newestFirst)
	slices.Reverse(msgs)

	page := &models.Page{Messages: msgs, HasMore: hasMore}
	if len(msgs) > 0 {
		oldest := msgs[0].Timestamp
		page.OldestTimestamp = &oldest
	}
	if page.Messages == nil {
		page.Messages = []*models.Message{}
	}
	return page
}

// markRead records receipts for messages the user has not read yet. It does
// not block the caller.
func (e *Engine) markRead(roomID, userID string, msgs []*models.Message) {
	var ids []string
	for _, m := range msgs {
		if m.SenderID != userID && !m.HasReader(userID) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 || userID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
		defer cancel()
		if err := e.store.MarkAsRead(ctx, roomID, userID, ids); err != nil {
			e.log.Warn("read_receipt_failed", "room_id", roomID, "user_id", userID, "err", err)
		}
	}()
}

func (e *Engine) acquire(k key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[k]; busy {
		return false
	}
	e.inflight[k] = struct{}{}
	return true
}

func (e *Engine) release(k key) {
	if e.opts.Cooldown <= 0 {
		e.mu.Lock()
		delete(e.inflight, k)
		e.mu.Unlock()
		return
	}
	time.AfterFunc(e.opts.Cooldown, func() {
		e.mu.Lock()
		delete(e.inflight, k)
		e.mu.Unlock()
	})
}

func (e *Engine) bumpRetry(k key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries[k]++
	return e.retries[k]
}

func (e *Engine) clearRetry(k key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.retries[k]
	delete(e.retries, k)
	return n
}

// RetryCount returns the live retry counter for a room and user.
func (e *Engine) RetryCount(roomID, userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries[key{roomID: roomID, userID: userID}]
}

// Forget drops per-user state for roomID, or for every room when roomID is
// empty.
func (e *Engine) Forget(roomID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.retries {
		if k.userID == userID && (roomID == "" || k.roomID == roomID) {
			delete(e.retries, k)
		}
	}
}
