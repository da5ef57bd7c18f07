package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"manito/internal/config"
	"manito/internal/database"
	"manito/internal/events"
	"manito/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type published struct {
	routingKey string
	messageID  string
	body       string
}

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	calls []published
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{routingKey: routingKey, messageID: messageID, body: string(body)})
	return p.err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	worker := NewOutboxWorker(db, pub, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingCreated, "b-1", []byte(`{"booking_id":"b-1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if pub.count() != 1 {
		t.Fatalf("expected one publish, got %d", pub.count())
	}
	call := pub.calls[0]
	if call.routingKey != events.EventBookingCreated {
		t.Fatalf("unexpected routing key %s", call.routingKey)
	}
	if call.messageID != messageID(&task) {
		t.Fatalf("expected message id %s, got %s", messageID(&task), call.messageID)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{err: errors.New("connection reset")}
	worker := NewOutboxWorker(db, pub, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingConfirmed, "b-2", []byte(`{"booking_id":"b-2"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid {
		t.Fatalf("expected next_retry_at to be set")
	}
}

func TestProcessTaskFailsAfterMaxRetries(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pub := &fakePublisher{err: errors.New("channel closed")}
	worker := NewOutboxWorker(db, pub, rdb, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	task := models.OutboxTask{EventType: events.EventBookingCancelled, AggregateID: "b-3", Payload: `{"booking_id":"b-3"}`}
	if err := db.CreateOutboxTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	worker.processTask(ctx, &task)

	status, _, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on failure")
	}

	items, err := rdb.LRange(ctx, worker.deadLetterKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(items))
	}
	var dead models.OutboxTask
	if err := json.Unmarshal([]byte(items[0]), &dead); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dead.ID != task.ID || dead.AggregateID != "b-3" {
		t.Fatalf("unexpected dead letter %+v", dead)
	}
}

func TestProcessTaskInvalidPayload(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	worker := NewOutboxWorker(db, pub, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	task := models.OutboxTask{EventType: events.EventBookingCreated, AggregateID: "b-4", Payload: `{"booking_id":`}
	if err := db.CreateOutboxTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if pub.count() != 0 {
		t.Fatalf("expected no publish for broken payload")
	}
}

func TestEnqueueUsesRedis(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	worker := NewOutboxWorker(db, &fakePublisher{}, rdb, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, events.EventBookingCreated, "b-5", []byte(`{"booking_id":"b-5"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected local queue to stay empty when redis is up")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	if task.AggregateID != "b-5" || task.ID == 0 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestEnqueueFallsBackWhenRedisDown(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	worker := NewOutboxWorker(db, &fakePublisher{}, rdb, RetryPolicy{}, nil)

	if err := worker.Enqueue(context.Background(), events.EventBookingCreated, "b-6", []byte(`{"booking_id":"b-6"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); !ok {
		t.Fatalf("expected task in local queue after redis failure")
	}
}

func TestEnqueueValidation(t *testing.T) {
	worker := NewOutboxWorker(newTestDB(t), &fakePublisher{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	if err := worker.Enqueue(ctx, "", "b-1", []byte("{}")); err == nil {
		t.Fatalf("expected error for empty event type")
	}
	if err := worker.Enqueue(ctx, events.EventBookingCreated, "", []byte("{}")); err == nil {
		t.Fatalf("expected error for empty aggregate id")
	}
}

func TestHandleEvent(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, &fakePublisher{}, nil, RetryPolicy{}, nil)

	err := worker.HandleEvent(&events.Event{Type: events.EventBookingCompleted, Payload: []byte(`{"booking_id":"b-7","status":"COMPLETED"}`)})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.AggregateID != "b-7" || task.EventType != events.EventBookingCompleted {
		t.Fatalf("unexpected task %+v", task)
	}

	if err := worker.HandleEvent(&events.Event{Type: events.EventBookingCreated, Payload: []byte(`nope`)}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestStartDrainsPendingTasks(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	worker := NewOutboxWorker(db, pub, nil, RetryPolicy{}, nil)
	worker.SetPolling(10*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"b-8", "b-9"} {
		task := models.OutboxTask{EventType: events.EventBookingCreated, AggregateID: id, Payload: `{"booking_id":"` + id + `"}`}
		if err := db.CreateOutboxTask(ctx, &task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if pub.count() != 2 {
		t.Fatalf("expected 2 publishes, got %d", pub.count())
	}
	pending, err := db.GetPendingOutboxTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending tasks, got %d", len(pending))
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	if d := p.NextDelay(1); d != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d)
	}
	if d := p.NextDelay(3); d != 4*time.Second {
		t.Fatalf("attempt3 expected 4s, got %s", d)
	}
	if d := p.NextDelay(5); d != 5*time.Second {
		t.Fatalf("attempt5 expected clamp to 5s, got %s", d)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.OutboxConfig{MaxRetries: 3, InitialDelay: 500 * time.Millisecond})
	if p.MaxRetries != 3 || p.InitialDelay != 500*time.Millisecond {
		t.Fatalf("config values not kept: %+v", p)
	}
	if p.MaxDelay != time.Minute || p.BackoffFactor != 2 {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.Exhausted(2) {
		t.Fatalf("attempt 2 of 3 should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Fatalf("attempt 3 of 3 should be exhausted")
	}
	if d := p.NextDelay(100); d != time.Minute {
		t.Fatalf("large attempt expected clamp to 1m, got %s", d)
	}
}

type fakeExpirer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExpirer) ExpireStalePending(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, f.err
}

type fakeLock struct {
	acquired bool
	err      error
	keys     []string
}

func (l *fakeLock) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.acquired, l.err
}

func (l *fakeLock) Release(ctx context.Context, key string) error { return nil }

func (l *fakeLock) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func TestSweepHonoursLock(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	cases := []struct {
		name      string
		lock      *fakeLock
		wantCalls int
	}{
		{"no lock", nil, 1},
		{"acquired", &fakeLock{acquired: true}, 1},
		{"held elsewhere", &fakeLock{acquired: false}, 0},
		{"lock store down", &fakeLock{err: errors.New("redis down")}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exp := &fakeExpirer{}
			var s *PendingSweeper
			if tc.lock == nil {
				s = NewPendingSweeper(exp, nil, time.Minute, &logger)
			} else {
				s = NewPendingSweeper(exp, tc.lock, time.Minute, &logger)
			}
			s.sweep(ctx)
			if exp.calls != tc.wantCalls {
				t.Fatalf("expected %d sweeps, got %d", tc.wantCalls, exp.calls)
			}
			if tc.lock != nil && (len(tc.lock.keys) != 1 || tc.lock.keys[0] != sweepLockKey) {
				t.Fatalf("unexpected lock keys %v", tc.lock.keys)
			}
		})
	}
}

func TestSweeperStartStops(t *testing.T) {
	logger := zerolog.Nop()
	exp := &fakeExpirer{err: errors.New("partial")}
	s := NewPendingSweeper(exp, nil, 5*time.Millisecond, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if exp.calls == 0 {
		t.Fatalf("expected at least one sweep")
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (string, int, sql.NullString) {
	t.Helper()
	var (
		status    string
		retry     int
		nextRetry sql.NullString
	)
	err := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM outbox WHERE id = ?`, id).Scan(&status, &retry, &nextRetry)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	return status, retry, nextRetry
}
