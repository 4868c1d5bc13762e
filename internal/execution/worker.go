package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/homeservices/backend/internal/models"
)

// ErrReferralNotFound is what a ReferralCompleter returns for an unknown id.
// The worker cancels the job instead of retrying it.
var ErrReferralNotFound = errors.New("referral not found")

type NotifyReferrerArgs struct {
	NotificationID uuid.UUID `json:"notification_id"`
	ReferrerID     uuid.UUID `json:"referrer_id"`
	ReferralID     uuid.UUID `json:"referral_id"`
}

func (NotifyReferrerArgs) Kind() string { return "notify_referrer" }

// NotificationStore is the persistence the delivery worker needs.
type NotificationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

// Notifier pushes a notification to the user through whatever channel the
// deployment has (push, email, WhatsApp).
type Notifier interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// LogNotifier is the default Notifier: it only writes the notification to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Deliver(_ context.Context, n *models.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification delivered", "notification_id", n.ID, "user_id", n.UserID, "kind", n.Kind)
	return nil
}

type NotifyReferrerWorker struct {
	river.WorkerDefaults[NotifyReferrerArgs]
	store    NotificationStore
	notifier Notifier
}

func NewNotifyReferrerWorker(store NotificationStore, notifier Notifier) *NotifyReferrerWorker {
	return &NotifyReferrerWorker{store: store, notifier: notifier}
}

func (w *NotifyReferrerWorker) Work(ctx context.Context, job *river.Job[NotifyReferrerArgs]) error {
	n, err := w.store.GetByID(ctx, job.Args.NotificationID)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", job.Args.NotificationID, err)
	}
	if n.DeliveredAt != nil {
		return nil
	}
	if err := w.notifier.Deliver(ctx, n); err != nil {
		// Delivery channels fail transiently; let River retry with backoff.
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	if err := w.store.MarkDelivered(ctx, n.ID); err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

type CompleteReferralArgs struct {
	ReferralID uuid.UUID `json:"referral_id"`
}

func (CompleteReferralArgs) Kind() string { return "complete_referral" }

// ReferralCompleter grants the referrer bonus for a referral.
type ReferralCompleter interface {
	MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) error
}

type CompleteReferralWorker struct {
	river.WorkerDefaults[CompleteReferralArgs]
	completer ReferralCompleter
}

func NewCompleteReferralWorker(c ReferralCompleter) *CompleteReferralWorker {
	return &CompleteReferralWorker{completer: c}
}

func (w *CompleteReferralWorker) Work(ctx context.Context, job *river.Job[CompleteReferralArgs]) error {
	err := w.completer.MarkReferralCompleted(ctx, job.Args.ReferralID)
	if errors.Is(err, ErrReferralNotFound) {
		return river.JobCancel(err)
	}
	return err
}
