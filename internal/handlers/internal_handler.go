package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/ledger"
	"github.com/homeservices/backend/internal/services"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ReferralCompleter interface {
	MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) error
}

// CompletionEnqueuer hands completion to the background queue.
type CompletionEnqueuer interface {
	EnqueueCompletion(ctx context.Context, referralID uuid.UUID) error
}

// InternalHandler serves /internal/v1 endpoints called by the booking and
// checkout services.
type InternalHandler struct {
	Pool      TxBeginner
	Completer ReferralCompleter
	Queue     CompletionEnqueuer
	Ledger    ledger.Service
	Validator *services.Validator
	Logger    *slog.Logger
}

// CompleteReferral handles POST /internal/v1/referrals/{id}/complete.
// With ?async=true the completion is queued and 202 is returned.
func (h *InternalHandler) CompleteReferral(w http.ResponseWriter, r *http.Request) {
	referralID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid referral id"}`, http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("async") == "true" && h.Queue != nil {
		if err := h.Queue.EnqueueCompletion(r.Context(), referralID); err != nil {
			h.Logger.Error("enqueue completion", "referral_id", referralID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"referral_id": referralID.String(), "status": "queued"})
		return
	}
	err = h.Completer.MarkReferralCompleted(r.Context(), referralID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"referral_id": referralID.String(), "status": "completed"})
	case errors.Is(err, services.ErrReferralNotFound):
		http.Error(w, `{"error":"referral not found"}`, http.StatusNotFound)
	case errors.Is(err, services.ErrSettlementConflict):
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":"busy, retry"}`, http.StatusServiceUnavailable)
	default:
		h.Logger.Error("complete referral", "referral_id", referralID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

type debitRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

// DebitWallet handles POST /internal/v1/wallet/{userID}/debit: checkout spends
// wallet balance. Overdrafts are rejected with 402, a reused reference with 409.
func (h *InternalHandler) DebitWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaWalletDebit, body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	var req debitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("begin tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	balance, err := h.Ledger.Debit(r.Context(), tx, userID, req.AmountCents, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			http.Error(w, `{"error":"insufficient funds"}`, http.StatusPaymentRequired)
		case errors.Is(err, ledger.ErrWalletNotFound):
			http.Error(w, `{"error":"wallet not found"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrDuplicateReference):
			http.Error(w, `{"error":"reference already debited"}`, http.StatusConflict)
		case errors.Is(err, ledger.ErrInvalidAmount):
			http.Error(w, `{"error":"amount must be positive"}`, http.StatusUnprocessableEntity)
		default:
			h.Logger.Error("debit wallet", "user_id", userID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("commit debit", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Logger.Info("wallet debited", "user_id", userID, "amount_cents", req.AmountCents, "reference", req.Reference)
	writeJSON(w, http.StatusOK, map[string]int64{"balance_cents": balance})
}
