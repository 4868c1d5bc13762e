package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/homeservices/backend/internal/capture"
	"github.com/homeservices/backend/internal/fingerprint"
	"github.com/homeservices/backend/internal/metrics"
	"github.com/homeservices/backend/internal/middleware"
	"github.com/homeservices/backend/internal/models"
	"github.com/homeservices/backend/internal/services"
)

const (
	captureCookie = "ref_capture"
	maxBodyBytes  = 64 << 10
)

// SignupSettler runs the settlement transaction.
type SignupSettler interface {
	Settle(ctx context.Context, in services.SettleInput) (*models.User, error)
}

// CaptureStore keeps claimed codes between landing and signup.
type CaptureStore interface {
	Capture(ctx context.Context, code string) (string, error)
	Lookup(ctx context.Context, token string) (string, error)
	Clear(ctx context.Context, token string) error
}

type LinkGenerator interface {
	GenerateReferralLink(ctx context.Context, userID uuid.UUID) (string, error)
}

type ReferralLister interface {
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]*models.Referral, error)
}

// ReferralHandler serves the customer-facing referral endpoints.
type ReferralHandler struct {
	Settler    SignupSettler
	Collector  fingerprint.Collector
	Captures   CaptureStore
	Links      LinkGenerator
	Referrals  ReferralLister
	Validator  *services.Validator
	CaptureTTL time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// --- POST /api/v1/signup/complete ---

type signupRequest struct {
	Name         string                    `json:"name"`
	Email        string                    `json:"email"`
	Phone        string                    `json:"phone"`
	ReferralCode string                    `json:"referral_code"`
	CaptureToken string                    `json:"capture_token"`
	Device       fingerprint.DeviceSignals `json:"device"`
}

// userResponse deliberately leaves out referred_by: the client is not told
// whether a referral was honoured.
type userResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	ReferralCode       string    `json:"referral_code"`
	WalletBalanceCents int64     `json:"wallet_balance_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

// CompleteSignup handles POST /api/v1/signup/complete.
// Validate -> resolve claimed code -> collect fingerprint -> Settle -> 201.
func (h *ReferralHandler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaSignupComplete, body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	var req signupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	code, token := h.claimedCode(r, req)

	user, err := h.Settler.Settle(r.Context(), services.SettleInput{
		UserID:      userID,
		Profile:     models.Profile{Name: req.Name, Email: req.Email, Phone: req.Phone},
		ClaimedCode: code,
		Fingerprint: h.Collector.Collect(r.Context(), r, req.Device),
	})
	if err != nil {
		if errors.Is(err, services.ErrSettlementConflict) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"signup is busy, please retry"}`, http.StatusServiceUnavailable)
			return
		}
		h.Logger.Error("settle signup", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	if token != "" {
		if err := h.Captures.Clear(r.Context(), token); err != nil {
			h.Logger.Warn("clear capture token", "error", err)
		}
		http.SetCookie(w, &http.Cookie{Name: captureCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:                 user.ID,
		Name:               user.Name,
		Email:              user.Email,
		Phone:              user.Phone,
		ReferralCode:       user.ReferralCode,
		WalletBalanceCents: user.WalletBalanceCents,
		CreatedAt:          user.CreatedAt,
	})
}

// claimedCode prefers a code typed into the form, then one captured earlier
// under the token from the body or cookie. Capture store failures only lose
// the code.
func (h *ReferralHandler) claimedCode(r *http.Request, req signupRequest) (code, token string) {
	token = req.CaptureToken
	if token == "" {
		if c, err := r.Cookie(captureCookie); err == nil {
			token = c.Value
		}
	}
	if req.ReferralCode != "" || token == "" {
		return req.ReferralCode, token
	}
	code, err := h.Captures.Lookup(r.Context(), token)
	if err != nil && !errors.Is(err, capture.ErrNotFound) {
		h.Logger.Warn("capture lookup failed", "error", err)
	}
	return code, token
}

// --- POST /api/v1/referrals/capture ---

type captureRequest struct {
	ReferralCode string `json:"referral_code"`
}

// CaptureCode handles POST /api/v1/referrals/capture (public, no auth).
func (h *ReferralHandler) CaptureCode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaReferralCapture, body); err != nil {
		h.Metrics.RecordCapture("invalid")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	var req captureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Captures.Capture(r.Context(), req.ReferralCode)
	if err != nil {
		if errors.Is(err, capture.ErrInvalidCode) {
			h.Metrics.RecordCapture("invalid")
			http.Error(w, `{"error":"invalid referral code"}`, http.StatusUnprocessableEntity)
			return
		}
		h.Metrics.RecordCapture("error")
		h.Logger.Error("capture referral code", "error", err)
		http.Error(w, `{"error":"capture unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	h.Metrics.RecordCapture("stored")

	http.SetCookie(w, &http.Cookie{
		Name:     captureCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.CaptureTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"capture_token": token})
}

// --- GET /api/v1/referrals/link ---

func (h *ReferralHandler) GetReferralLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	link, err := h.Links.GenerateReferralLink(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			http.Error(w, `{"error":"complete signup first"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("generate referral link", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

// --- GET /api/v1/referrals ---

// referralSummary is what a referrer may see about people they referred.
type referralSummary struct {
	ID                 uuid.UUID  `json:"id"`
	Status             string     `json:"status"`
	ReferrerBonusCents int64      `json:"referrer_bonus_cents"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func (h *ReferralHandler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Referrals.ListByReferrer(r.Context(), userID)
	if err != nil {
		h.Logger.Error("list referrals", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]referralSummary, 0, len(list))
	for _, f := range list {
		out = append(out, referralSummary{
			ID:                 f.ID,
			Status:             f.Status,
			ReferrerBonusCents: f.ReferrerBonusCents,
			CreatedAt:          f.CreatedAt,
			CompletedAt:        f.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
