package router

import (
	"net/http"

	"github.com/homeservices/backend/internal/dashboard"
	"github.com/homeservices/backend/internal/handlers"
	"github.com/homeservices/backend/internal/metrics"
	"github.com/homeservices/backend/internal/middleware"
)

// Config carries everything the route table needs.
type Config struct {
	Referrals    *handlers.ReferralHandler
	Internal     *handlers.InternalHandler
	Wallet       *dashboard.Handler
	Tokens       middleware.TokenValidator
	ServiceToken string
	SignupLimit  *middleware.IPRateLimiter
	ProxyHops    int
	Metrics      *metrics.Metrics
}

// New returns an http.Handler serving /api/v1 and /internal/v1.
func New(c Config) http.Handler {
	mux := http.NewServeMux()
	userAuth := middleware.UserAuth(c.Tokens)
	serviceAuth := middleware.ServiceAuth(c.ServiceToken)
	limited := func(h http.Handler) http.Handler { return h }
	if c.SignupLimit != nil {
		limited = middleware.RateLimit(c.SignupLimit, c.ProxyHops, c.Metrics)
	}

	// Public, authenticated by the identity provider's JWT.
	mux.Handle("POST /api/v1/signup/complete", limited(userAuth(http.HandlerFunc(c.Referrals.CompleteSignup))))
	mux.Handle("GET /api/v1/referrals/link", userAuth(http.HandlerFunc(c.Referrals.GetReferralLink)))
	mux.Handle("GET /api/v1/referrals", userAuth(http.HandlerFunc(c.Referrals.ListReferrals)))
	mux.Handle("GET /api/v1/wallet", userAuth(http.HandlerFunc(c.Wallet.GetWallet)))

	// Landing page capture runs before the visitor has an account.
	mux.Handle("POST /api/v1/referrals/capture", limited(http.HandlerFunc(c.Referrals.CaptureCode)))

	// Booking and checkout services.
	mux.Handle("POST /internal/v1/referrals/{id}/complete", serviceAuth(http.HandlerFunc(c.Internal.CompleteReferral)))
	mux.Handle("POST /internal/v1/wallet/{userID}/debit", serviceAuth(http.HandlerFunc(c.Internal.DebitWallet)))

	return mux
}
