package http

import (
	"errors"
	"net/http"

	"leasecore/internal/config"
	"leasecore/internal/domain"
	"leasecore/internal/infra/db"
	"leasecore/internal/infra/notify"
	"leasecore/internal/infra/ratelimit"
	"leasecore/internal/infra/signlink"
	"leasecore/internal/usecase"

	"github.com/gin-gonic/gin"
)

// LinkVerifier checks a presented signing-link token and returns its
// claims. Implemented by signlink.Manager; tests substitute a stub.
type LinkVerifier interface {
	Verify(token string) (*signlink.Claims, error)
}

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	workflow *usecase.LeaseWorkflow
	otp      *usecase.OTPService
	links    LinkVerifier

	adminAPIKey string
	initErr     error
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

type ServerDeps struct {
	Workflow    *usecase.LeaseWorkflow
	OTP         *usecase.OTPService
	Links       LinkVerifier
	AdminAPIKey string
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		workflow:    deps.Workflow,
		otp:         deps.OTP,
		links:       deps.Links,
		adminAPIKey: deps.AdminAPIKey,
	}
	if s.otp == nil && s.workflow != nil {
		s.otp = s.workflow.OTP
	}
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey

	var limiter domain.RateLimiter
	if s.cfg.RedisAddr != "" {
		if redisLimiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
			MaxKeys: s.cfg.RateLimitMaxKeys,
		})
	}

	notifier := buildNotifier(s.cfg)

	if s.cfg.SigningLinkSecret == "" {
		s.initErr = errors.New("SIGNING_LINK_SECRET is required")
		return
	}
	linkManager, err := signlink.NewManager([]byte(s.cfg.SigningLinkSecret), "leasecore", nil)
	if err != nil {
		s.initErr = err
		return
	}
	s.links = linkManager

	otpCfg := usecase.OTPConfig{
		CodeLength:        s.cfg.OTPCodeLength,
		Expiry:            s.cfg.OTPExpiry(),
		MaxVerifyAttempts: s.cfg.OTPMaxAttempts,
		IssueLimit:        s.cfg.OTPIssueLimit,
		IssueWindow:       s.cfg.OTPIssueWindow(),
		VerifiedValidity:  s.cfg.OTPVerifiedValidity(),
	}
	s.otp = usecase.NewOTPService(s.store, limiter, notifier, otpCfg)
	signatures := usecase.NewSignatureService(s.store, s.otp)
	s.workflow = usecase.NewLeaseWorkflow(s.store, s.otp, signatures, linkManager, notifier, usecase.WorkflowConfig{
		SigningLinkExpiry: s.cfg.SigningLinkExpiry(),
		SigningBaseURL:    s.cfg.SigningBaseURL,
	})
}

func buildNotifier(cfg config.Config) domain.Notifier {
	if cfg.SMSProvider == "africastalking" {
		notifier, err := notify.NewAfricasTalkingNotifier(notify.AfricasTalkingConfig{
			APIURL:    cfg.AfricasTalkingAPIURL,
			Username:  cfg.AfricasTalkingUser,
			APIKey:    cfg.AfricasTalkingAPIKey,
			Shortcode: cfg.AfricasTalkingSender,
		})
		if err == nil {
			return notifier
		}
	}
	return notify.NewLogNotifier()
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store != nil && s.store.DB() != nil {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/leases", s.handleCreateLease)
		v1.GET("/leases/:lease_id", s.handleGetLease)
		v1.GET("/leases/:lease_id/transitions", s.handleListTransitions)
		v1.POST("/leases/:lease_id/transition", s.handleTransition)
		v1.POST("/leases/:lease_id/approval", s.handleRequestApproval)
		v1.POST("/leases/:lease_id/approve", s.handleApprove)
		v1.POST("/leases/:lease_id/reject", s.handleReject)
		v1.POST("/leases/:lease_id/send", s.handleSendForSigning)
		v1.GET("/leases/:lease_id/status", s.handleSigningStatus)
		v1.GET("/leases/:lease_id/history", s.handleHistory)
		v1.GET("/leases/:lease_id/audit/verify", s.handleVerifyAuditChain)

		v1.GET("/signing/:token", s.handleTenantStatus)
		v1.POST("/signing/:token/otp", s.handleTenantRequestOTP)
		v1.POST("/signing/:token/otp/verify", s.handleTenantVerifyOTP)
		v1.POST("/signing/:token/signature", s.handleTenantCapture)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}
