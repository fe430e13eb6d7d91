package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/intake"
	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

var errMissingLedger = errors.New("ledger service is required")

// WalletReader serves wallet snapshots for display.
type WalletReader interface {
	Wallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error)
}

// NotificationLister returns a user's stored notifications.
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Notification, error)
}

// PaymentVerifier confirms a deposit with the processor on behalf of a user.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (intake.Event, error)
}

// Dependencies wires the ledger and its collaborators into the router.
// Wallets defaults to the ledger itself; the other collaborators are optional.
type Dependencies struct {
	Ledger        *ledger.Service
	Wallets       WalletReader
	Notifications NotificationLister
	Verifier      PaymentVerifier
	Webhooks      []intake.WebhookParser
	Logger        *zap.Logger
}

// Run serves the HTTP surface until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter validates cfg and builds the gin engine with every route mounted.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := newHTTPHandler(cfg, deps)
	return setupRouter(cfg, handler, sessionValidator), nil
}

func setupRouter(cfg Config, handler *httpHandler, sessionValidator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	registerJSONFieldNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	router.POST("/webhooks/:provider", handler.handleWebhook)
	router.POST("/cron/bookings/expire", handler.requireCronSecret, handler.handleExpireBookings)

	api := router.Group("/api")
	api.Use(sessionValidator.GinMiddleware(claimsContextKey))

	api.GET("/wallet", handler.handleWallet)
	api.GET("/transactions", handler.handleTransactions)
	api.GET("/notifications", handler.handleNotifications)
	api.GET("/packages", handler.handlePackages)
	api.POST("/deposits", handler.handleCreateDeposit)
	api.POST("/deposits/verify", handler.handleVerifyDeposit)
	api.POST("/deposits/manual", handler.handleRequestManualDeposit)
	api.POST("/gifts", handler.handleGift)
	api.POST("/bookings", handler.handleCreateBooking)
	api.POST("/bookings/:id/hold", handler.handleHold)
	api.POST("/bookings/:id/verification", handler.handleSubmitVerification)
	api.POST("/bookings/:id/accept", handler.handleAcceptBooking)
	api.POST("/bookings/:id/complete", handler.handleCompleteBooking)
	api.POST("/withdrawals", handler.handleRequestWithdrawal)

	admin := api.Group("/admin")
	admin.Use(handler.requireRole(cfg.AdminRole))
	admin.POST("/verifications/:id/approve", handler.handleApproveVerification)
	admin.POST("/verifications/:id/reject", handler.handleRejectVerification)
	admin.POST("/withdrawals/:id/approve", handler.handleApproveWithdrawal)
	admin.POST("/withdrawals/:id/reject", handler.handleRejectWithdrawal)
	admin.POST("/deposits/:id/approve", handler.handleApproveManualDeposit)
	admin.POST("/deposits/:id/reject", handler.handleRejectManualDeposit)

	return router
}

var registerFieldNamesOnce sync.Once

// registerJSONFieldNames makes binding errors report json field names.
func registerJSONFieldNames() {
	registerFieldNamesOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
