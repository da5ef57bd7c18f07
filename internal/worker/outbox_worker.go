package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"manito/internal/domain"
	"manito/internal/events"
	"manito/internal/metrics"
	"manito/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OutboxWorker publishes persisted booking events to the message broker.
// Tasks are stored first, then handed over through Redis or an in-memory
// queue; polling the table picks up anything those paths missed.
type OutboxWorker struct {
	store         domain.OutboxStore
	publisher     domain.MessagePublisher
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.OutboxTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults.
func NewOutboxWorker(store domain.OutboxStore, publisher domain.MessagePublisher, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *OutboxWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		store:         store,
		publisher:     publisher,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.OutboxTask, models.WorkerQueueSize),
		redisQueueKey: "outbox:queue",
		deadLetterKey: "outbox:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// SetPolling overrides the table polling interval and batch size.
func (w *OutboxWorker) SetPolling(interval time.Duration, batchSize int) {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
}

// HandleEvent is an events.EventHandler that stores booking events for
// delivery.
func (w *OutboxWorker) HandleEvent(event *events.Event) error {
	var ref struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.Unmarshal(event.Payload, &ref); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return w.Enqueue(context.Background(), event.Type, ref.BookingID, event.Payload)
}

// Enqueue persists the task and schedules it via redis or the in-memory queue.
func (w *OutboxWorker) Enqueue(ctx context.Context, eventType, aggregateID string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if aggregateID == "" {
		return errors.New("aggregate id is required")
	}

	task := models.OutboxTask{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(payload),
		Status:      models.OutboxPending,
	}
	if err := w.store.CreateOutboxTask(ctx, &task); err != nil {
		return fmt.Errorf("persist outbox task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("In-memory outbox queue full, task left to polling")
	}
	return nil
}

// Start runs the dispatch loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Outbox worker started")
	defer w.logger.Info().Msg("Outbox worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingOutboxTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("Failed to fetch pending outbox tasks")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *OutboxWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *OutboxWorker) tryLocalQueue() (models.OutboxTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboxTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.OutboxTask, bool) {
	if w.redis == nil {
		return models.OutboxTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.OutboxTask{}, false
		}
		w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		return models.OutboxTask{}, false
	}
	if len(res) != 2 {
		return models.OutboxTask{}, false
	}
	var task models.OutboxTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis outbox task")
		return models.OutboxTask{}, false
	}
	return task, true
}

// messageID is stable across retries so consumers can drop duplicates.
func messageID(task *models.OutboxTask) string {
	return "outbox-" + strconv.FormatInt(task.ID, 10)
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	log := w.logger.With().Int64("task_id", task.ID).Str("event_type", task.EventType).Logger()

	if !json.Valid([]byte(task.Payload)) {
		w.failTask(ctx, task, errors.New("payload is not valid JSON"))
		return
	}

	if err := w.publisher.Publish(ctx, task.EventType, messageID(task), []byte(task.Payload)); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("Failed to mark outbox task completed")
	}
	metrics.IncOutbox("published")
	log.Debug().Str("booking_id", task.AggregateID).Msg("Outbox task published")
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to schedule outbox retry")
	}
	metrics.IncOutbox("retry")
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("Outbox publish failed, will retry")
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark outbox task failed")
	}
	metrics.IncOutbox("failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Msg("Outbox task failed permanently")
	w.pushDeadLetter(ctx, task)
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.OutboxTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
	}
}
