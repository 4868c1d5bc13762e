package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeservices/backend/internal/models"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) CreateTx(ctx context.Context, tx pgx.Tx, n *models.Notification) error {
	return tx.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, referral_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.ReferralID).Scan(&n.CreatedAt)
}

func (r *NotificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var n models.Notification
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, title, body, referral_id, delivered_at, created_at
		FROM notifications WHERE id = $1
	`, id).Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.ReferralID, &n.DeliveredAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notifications SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	return err
}
