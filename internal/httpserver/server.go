package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit     = 50
	defaultLeaderboardLimit = 10
	maxPageLimit            = 200
	shutdownTimeout         = 5 * time.Second
)

// Config carries the HTTP facade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Dependencies are the wired collaborators the facade exposes.
type Dependencies struct {
	Logger     *zap.Logger
	Service    *coins.Service
	Aggregator *coins.Aggregator
	Sweeper    *coins.Sweeper
	Metrics    http.Handler
}

// Run boots the HTTP facade and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	router := NewRouter(cfg, deps)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("coins api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine. Exposed separately so tests can drive
// it with httptest.
func NewRouter(cfg Config, deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	handler := &httpHandler{
		logger:     deps.Logger,
		service:    deps.Service,
		aggregator: deps.Aggregator,
		sweeper:    deps.Sweeper,
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api")
	api.GET("/users/:user_id/balance", handler.handleBalance)
	api.GET("/users/:user_id/transactions", handler.handleTransactions)
	api.POST("/users/:user_id/credit", handler.handleCredit)
	api.POST("/users/:user_id/debit", handler.handleDebit)
	api.POST("/users/:user_id/rent-payment", handler.handleRentPayment)
	api.PUT("/users/:user_id/display-name", handler.handleDisplayName)
	api.GET("/leaderboard", handler.handleLeaderboard)
	api.GET("/stats", handler.handleStats)
	api.POST("/jobs/expiry-sweep", handler.handleExpirySweep)
	api.POST("/jobs/expiry-warnings", handler.handleExpiryWarnings)

	return router
}

type httpHandler struct {
	logger     *zap.Logger
	service    *coins.Service
	aggregator *coins.Aggregator
	sweeper    *coins.Sweeper
}

type movementRequest struct {
	Amount      int64             `json:"amount"`
	Source      string            `json:"source"`
	Reference   *referencePayload `json:"reference"`
	Description string            `json:"description"`
}

type rentPaymentRequest struct {
	Amount        int64             `json:"amount"`
	PaidAtUnixUTC int64             `json:"paid_at_unix_utc"`
	Reference     *referencePayload `json:"reference"`
}

type displayNameRequest struct {
	DisplayName string `json:"display_name"`
}

type referencePayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type entryPayload struct {
	TransactionID  string            `json:"transaction_id"`
	Direction      string            `json:"direction"`
	Amount         int64             `json:"amount"`
	Source         string            `json:"source"`
	Reference      *referencePayload `json:"reference,omitempty"`
	Description    string            `json:"description,omitempty"`
	BalanceAfter   int64             `json:"balance_after"`
	CreatedUnixUTC int64             `json:"created_unix_utc"`
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := pathUserID(ctx)
	if !ok {
		return
	}
	view, err := handler.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":               view.Balance.Int64(),
		"total_earned":          view.TotalEarned.Int64(),
		"current_streak":        view.CurrentStreak,
		"last_payment_unix_utc": view.LastPaymentUnixUTC,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := pathUserID(ctx)
	if !ok {
		return
	}
	limit, err := queryInt(ctx, "limit", defaultHistoryLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be an integer"))
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	before, err := queryInt64(ctx, "before", 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "before must be a unix timestamp"))
		return
	}
	entries, err := handler.service.ListTransactions(ctx.Request.Context(), userID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, mapEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) handleCredit(ctx *gin.Context) {
	handler.handleMovement(ctx, handler.service.Credit)
}

func (handler *httpHandler) handleDebit(ctx *gin.Context) {
	handler.handleMovement(ctx, handler.service.Debit)
}

type movementFn func(ctx context.Context, userID coins.UserID, amount coins.PositiveAmount, source coins.Source, reference *coins.Reference, description string) (coins.Receipt, error)

func (handler *httpHandler) handleMovement(ctx *gin.Context, move movementFn) {
	userID, ok := pathUserID(ctx)
	if !ok {
		return
	}
	var request movementRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := coins.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	source, err := coins.ParseSource(request.Source)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reference, err := mapReference(request.Reference)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	receipt, err := move(ctx.Request.Context(), userID, amount, source, reference, request.Description)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":        receipt.Balance.Int64(),
		"transaction_id": receipt.TransactionID.String(),
	})
}

func (handler *httpHandler) handleRentPayment(ctx *gin.Context) {
	userID, ok := pathUserID(ctx)
	if !ok {
		return
	}
	var request rentPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := coins.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.PaidAtUnixUTC <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "paid_at_unix_utc is required"))
		return
	}
	reference, err := mapReference(request.Reference)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	receipt, err := handler.service.RecordRentPayment(ctx.Request.Context(), userID, amount, request.PaidAtUnixUTC, reference)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":          receipt.Balance.Int64(),
		"transaction_id":   receipt.CreditTransactionID.String(),
		"current_streak":   receipt.CurrentStreak,
		"streak_increased": receipt.StreakIncreased,
		"bonus_awarded":    receipt.BonusAwarded.Int64(),
	})
}

func (handler *httpHandler) handleDisplayName(ctx *gin.Context) {
	userID, ok := pathUserID(ctx)
	if !ok {
		return
	}
	var request displayNameRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if err := handler.service.SetDisplayName(ctx.Request.Context(), userID, request.DisplayName); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleLeaderboard(ctx *gin.Context) {
	limit, err := queryInt(ctx, "limit", defaultLeaderboardLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be an integer"))
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	entries, err := handler.aggregator.Leaderboard(ctx.Request.Context(), limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"rank":        entry.Rank,
			"masked_name": entry.MaskedName,
			"total_coins": entry.TotalCoins.Int64(),
			"streak":      entry.Streak,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"leaderboard": payload})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	stats, err := handler.aggregator.Stats(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"circulating_supply":    stats.CirculatingSupply,
		"total_minted_lifetime": stats.TotalMintedLifetime,
		"total_burned":          stats.TotalBurned,
		"holders_count":         stats.HoldersCount,
	})
}

func (handler *httpHandler) handleExpirySweep(ctx *gin.Context) {
	report, err := handler.sweeper.RunExpirySweep(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"accounts_processed": report.AccountsProcessed,
		"total_frozen":       report.TotalFrozen,
		"errors":             report.Errors,
	})
}

func (handler *httpHandler) handleExpiryWarnings(ctx *gin.Context) {
	report, err := handler.sweeper.RunExpiryWarnings(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"accounts_scanned": report.AccountsScanned,
		"notices_sent":     report.NoticesSent,
		"errors":           report.Errors,
	})
}

// respondError maps domain sentinels onto HTTP statuses.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, coins.ErrInvalidAmount),
		errors.Is(err, coins.ErrInvalidUserID),
		errors.Is(err, coins.ErrInvalidSource),
		errors.Is(err, coins.ErrInvalidReference),
		errors.Is(err, coins.ErrInvalidDisplayName),
		errors.Is(err, coins.ErrInvalidLimit):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, coins.ErrInsufficientBalance):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_balance", "account does not hold enough coins"))
	case errors.Is(err, coins.ErrDuplicateReference):
		ctx.JSON(http.StatusConflict, errorResponse("duplicate_reference", "this event was already booked"))
	case errors.Is(err, coins.ErrConcurrentModification):
		ctx.JSON(http.StatusConflict, errorResponse("concurrent_modification", "account changed underneath the request, retry"))
	default:
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func pathUserID(ctx *gin.Context) (coins.UserID, bool) {
	userID, err := coins.NewUserID(ctx.Param("user_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "user id is required"))
		return coins.UserID{}, false
	}
	return userID, true
}

func mapReference(payload *referencePayload) (*coins.Reference, error) {
	if payload == nil {
		return nil, nil
	}
	reference, err := coins.NewReference(payload.Kind, payload.ID)
	if err != nil {
		return nil, err
	}
	return &reference, nil
}

func mapEntryPayload(entry coins.TransactionEntry) entryPayload {
	payload := entryPayload{
		TransactionID:  entry.TransactionID.String(),
		Direction:      entry.Direction.String(),
		Amount:         entry.Amount.Int64(),
		Source:         entry.Source.String(),
		Description:    entry.Description,
		BalanceAfter:   entry.BalanceAfter.Int64(),
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
	if entry.Reference != nil {
		payload.Reference = &referencePayload{Kind: entry.Reference.Kind(), ID: entry.Reference.ID()}
	}
	return payload
}

func queryInt(ctx *gin.Context, name string, fallback int) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, nil
}

func queryInt64(ctx *gin.Context, name string, fallback int64) (int64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, nil
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
