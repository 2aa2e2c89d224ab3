package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stackin/escrow/internal/config"
	escrowdomain "github.com/stackin/escrow/internal/escrow/domain"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/internal/observability"
	obsmiddleware "github.com/stackin/escrow/internal/observability/logger"
	obsmetrics "github.com/stackin/escrow/internal/observability/metrics"
	obstracing "github.com/stackin/escrow/internal/observability/tracing"
	walletdomain "github.com/stackin/escrow/internal/wallet/domain"
	webhookdomain "github.com/stackin/escrow/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	intentSvc  intentdomain.Service
	escrowSvc  escrowdomain.Service
	walletSvc  walletdomain.Service
	webhookSvc webhookdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	IntentSvc  intentdomain.Service
	EscrowSvc  escrowdomain.Service
	WalletSvc  walletdomain.Service
	WebhookSvc webhookdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		intentSvc:  p.IntentSvc,
		escrowSvc:  p.EscrowSvc,
		walletSvc:  p.WalletSvc,
		webhookSvc: p.WebhookSvc,
	}

	svc.registerPaymentRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/api/payments")

	// -------- Webhook ingress (HMAC, no bearer token) --------
	payments.POST("/webhook", s.HandlePaymentWebhook)

	authed := payments.Group("", s.AuthRequired())

	// -------- Intents --------
	authed.POST("/intents", s.CreateIntent)
	authed.GET("/intents/:id", s.GetIntent)
	authed.POST("/intents/:id/provider-ref", s.AttachProviderRef)

	// -------- Wallets --------
	authed.GET("/wallets/me", s.GetMyWallet)

	// -------- Task subsystem --------
	authed.POST("/tasks/:id/worker", s.AssignWorker)

	// -------- Admin --------
	authed.GET("/admin/list", s.ListPayments)
	authed.GET("/admin/webhooks", s.ListWebhookLogs)
	authed.POST("/admin/webhooks/:id/replay", s.ReplayWebhookLog)
	authed.GET("/admin/wallets/:id/reconcile", s.ReconcileWallet)

	// -------- Payments --------
	authed.GET("/:id", s.GetPayment)
	authed.POST("/:id/release", s.ReleasePayment)
	authed.POST("/:id/refund", s.RefundPayment)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
