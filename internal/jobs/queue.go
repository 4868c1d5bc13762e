package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/homeservices/backend/internal/execution"
)

// Queue owns the River client used for referral background work.
type Queue struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Migrate applies River's own schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// NewQueue registers the notification and completion workers and builds the client.
// Start must be called before jobs are worked; inserts work either way.
func NewQueue(pool *pgxpool.Pool, notify *execution.NotifyReferrerWorker, complete *execution.CompleteReferralWorker, maxWorkers int, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, notify)
	river.AddWorker(workers, complete)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Queue{client: client, log: log}, nil
}

// InsertNotifyReferrerTx enqueues notification delivery inside the settlement
// transaction, so the job only exists if the settlement commits.
func (q *Queue) InsertNotifyReferrerTx(ctx context.Context, tx pgx.Tx, args execution.NotifyReferrerArgs) error {
	_, err := q.client.InsertTx(ctx, tx, args, nil)
	return err
}

// EnqueueCompletion schedules MarkReferralCompleted for a referral. Repeated
// calls while a job for the same referral is pending collapse into one.
func (q *Queue) EnqueueCompletion(ctx context.Context, referralID uuid.UUID) error {
	res, err := q.client.Insert(ctx, execution.CompleteReferralArgs{ReferralID: referralID}, completionInsertOpts())
	if err != nil {
		return err
	}
	if res.UniqueSkippedAsDuplicate {
		q.log.Info("completion already queued", "referral_id", referralID)
	}
	return nil
}

func completionInsertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 24 * time.Hour,
		},
	}
}

func (q *Queue) Start(ctx context.Context) error { return q.client.Start(ctx) }

func (q *Queue) Stop(ctx context.Context) error { return q.client.Stop(ctx) }
