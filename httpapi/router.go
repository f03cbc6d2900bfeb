package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Options configures NewRouter.
type Options struct {
	Logger *zap.Logger
	// RateLimit enables the per-IP limiter on the public auth routes.
	RateLimit *middleware.RateLimitConfig
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Now is used for Retry-After on locked accounts. Default time.Now.
	Now func() time.Time
}

type handler struct {
	engine *authsession.Engine
	log    *zap.Logger
	now    func() time.Time
}

// NewRouter returns the HTTP surface for engine.
func NewRouter(engine *authsession.Engine, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &handler{engine: engine, log: log.Named("http"), now: now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientInfo(opts.TrustProxy))
	r.Use(middleware.Logging(h.log))
	r.Use(middleware.Recover)

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(middleware.RateLimit(middleware.NewLimiter(*opts.RateLimit)))
		}

		r.Post("/login", h.login)
		r.Post("/mfa/verify", h.mfaVerify)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)

		r.Route("/password-reset", func(r chi.Router) {
			r.Post("/request", h.resetRequest)
			r.Post("/verify", h.resetVerify)
			r.Post("/confirm", h.resetConfirm)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))

		r.Get("/me", h.me)
		r.Post("/logout-all", h.logoutAll)
		r.Route("/mfa", func(r chi.Router) {
			r.Post("/setup", h.mfaSetup)
			r.Post("/setup/confirm", h.mfaSetupConfirm)
			r.Post("/disable", h.mfaDisable)
			r.Post("/recovery-codes", h.mfaRecoveryCodes)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	return r
}
