package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sigweihq/companionpay/pkg/metrics"
	"github.com/sigweihq/companionpay/pkg/signaling"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/verifier"
)

// PaymentVerifier is the server-side verification of a payment claim
type PaymentVerifier interface {
	Verify(ctx context.Context, caller verifier.Caller, req types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error)
}

type WalletAuthenticator interface {
	SignIn(ctx context.Context, address string) (*types.AuthResponse, error)
	Register(ctx context.Context, req types.WalletRegisterRequest) (*types.AuthResponse, error)
	UsernameAvailable(ctx context.Context, username string) (*types.UsernameAvailability, error)
}

// AccessStore is the read side of companions and grants
type AccessStore interface {
	GetCompanion(ctx context.Context, id string) (*store.Companion, error)
	HasAccess(ctx context.Context, userID, companionID string) (bool, error)
	ListAccessGrants(ctx context.Context, userID string) ([]store.AccessGrant, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Env             string
	PublicURL       string
	Network         string
	PlatformWallet  string
	VerifyPerSecond float64
	VerifyBurst     int
}

type Dependencies struct {
	Verifier  PaymentVerifier
	Auth      WalletAuthenticator
	Store     AccessStore
	Sessions  TokenParser
	Signaling *signaling.Hub
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Health    HealthChecker
	Logger    *slog.Logger
}

type Server struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	engine *gin.Engine
}

func New(cfg Config, deps Dependencies) *Server {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.engine = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(Instrument(s.deps.Metrics))

	r.GET("/healthz", s.healthz)
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/wallet/signin", s.walletSignIn)
		authGroup.POST("/wallet/register", s.walletRegister)
		authGroup.GET("/username-available", s.usernameAvailable)

		v1.GET("/companions/:id/payment-requirements", s.paymentRequirements)

		protected := v1.Group("")
		protected.Use(AuthRequired(s.deps.Sessions))
		protected.GET("/companions/:id/access", s.companionAccess)
		protected.GET("/access", s.listAccess)
		protected.POST("/payments/verify",
			RateLimit(NewRateLimiter(s.cfg.VerifyPerSecond, s.cfg.VerifyBurst)),
			s.verifyPayment)

		if s.deps.Signaling != nil {
			v1.GET("/calls/ws", s.callSignaling)
		}
	}
	return r
}
