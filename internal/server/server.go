package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/billsync/internal/checkout"
	checkoutdomain "github.com/smallbiznis/billsync/internal/checkout/domain"
	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/invoice"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	"github.com/smallbiznis/billsync/internal/observability"
	obsmiddleware "github.com/smallbiznis/billsync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	obstracing "github.com/smallbiznis/billsync/internal/observability/tracing"
	"github.com/smallbiznis/billsync/internal/payment"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	"github.com/smallbiznis/billsync/internal/paymentmethod"
	pmdomain "github.com/smallbiznis/billsync/internal/paymentmethod/domain"
	"github.com/smallbiznis/billsync/internal/plan"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	"github.com/smallbiznis/billsync/internal/providers"
	"github.com/smallbiznis/billsync/internal/ratelimit"
	"github.com/smallbiznis/billsync/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	"github.com/smallbiznis/billsync/internal/tenant"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"github.com/smallbiznis/billsync/internal/webhook"
	webhookdomain "github.com/smallbiznis/billsync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	providers.Module,
	plan.Module,
	tenant.Module,
	subscription.Module,
	payment.Module,
	invoice.Module,
	paymentmethod.Module,
	checkout.Module,
	webhook.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
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
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	planSvc          plandomain.Service
	tenantSvc        tenantdomain.Service
	subscriptionSvc  subscriptiondomain.Service
	paymentSvc       paymentdomain.Service
	invoiceSvc       invoicedomain.Service
	paymentMethodSvc pmdomain.Service
	checkoutSvc      checkoutdomain.Service
	reconciler       webhookdomain.Reconciler
	checkoutLimiter  *ratelimit.CheckoutLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Log              *zap.Logger
	PlanSvc          plandomain.Service
	TenantSvc        tenantdomain.Service
	SubscriptionSvc  subscriptiondomain.Service
	PaymentSvc       paymentdomain.Service
	InvoiceSvc       invoicedomain.Service
	PaymentMethodSvc pmdomain.Service
	CheckoutSvc      checkoutdomain.Service
	Reconciler       webhookdomain.Reconciler
	CheckoutLimiter  *ratelimit.CheckoutLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		planSvc:          p.PlanSvc,
		tenantSvc:        p.TenantSvc,
		subscriptionSvc:  p.SubscriptionSvc,
		paymentSvc:       p.PaymentSvc,
		invoiceSvc:       p.InvoiceSvc,
		paymentMethodSvc: p.PaymentMethodSvc,
		checkoutSvc:      p.CheckoutSvc,
		reconciler:       p.Reconciler,
		checkoutLimiter:  p.CheckoutLimiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/gateway", s.HandleGatewayWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/plans", s.ListPlans)

	tenantScoped := api.Group("", TenantContext())

	// -------- Checkout --------
	tenantScoped.POST("/checkout", CheckoutRateLimit(s.checkoutLimiter, s.log), s.InitiateCheckout)
	tenantScoped.POST("/checkout/verify", s.VerifyCheckout)

	// -------- Subscription --------
	tenantScoped.GET("/subscription", s.GetCurrentSubscription)
	tenantScoped.GET("/subscriptions", s.ListSubscriptions)
	tenantScoped.POST("/subscription/cancel", s.CancelSubscription)
	tenantScoped.POST("/subscription/reactivate", s.ReactivateSubscription)
	tenantScoped.POST("/subscription/change-plan", s.ChangeSubscriptionPlan)

	// -------- Payment Methods --------
	tenantScoped.GET("/payment-methods", s.ListPaymentMethods)
	tenantScoped.POST("/payment-methods", s.AddPaymentMethod)
	tenantScoped.POST("/payment-methods/:id/default", s.SetDefaultPaymentMethod)
	tenantScoped.DELETE("/payment-methods/:id", s.RemovePaymentMethod)

	// -------- Invoices & Payments --------
	tenantScoped.GET("/invoices", s.ListInvoices)
	tenantScoped.GET("/invoices/:id", s.GetInvoiceByID)
	tenantScoped.GET("/invoices/:id/pdf", s.DownloadInvoicePDF)
	tenantScoped.GET("/payments", s.ListPayments)

	// -------- Tenant --------
	tenantScoped.PUT("/tenant/billing-address", s.UpdateBillingAddress)
}
