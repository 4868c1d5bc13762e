package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/homeservices/backend/internal/middleware"
	"github.com/homeservices/backend/internal/models"
)

const defaultEntryLimit = 50

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type WalletReader interface {
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletEntry, error)
}

// Handler serves the customer's wallet view.
type Handler struct {
	users   UserReader
	wallets WalletReader
	log     *slog.Logger
}

func NewHandler(users UserReader, wallets WalletReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, wallets: wallets, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/wallet?limit=N
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := defaultEntryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.log.Error("get user failed", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"wallet not found"}`, http.StatusNotFound)
		return
	}
	entries, err := h.wallets.ListByUserID(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("list wallet entries failed", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.WalletEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance_cents": user.WalletBalanceCents,
		"entries":       entries,
	})
}
