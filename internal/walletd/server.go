package walletd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brushmint/wallet/pkg/session"
)

const (
	principalContextKey = "wallet_principal"
	bearerPrefix        = "Bearer "
	defaultImageCount   = 4
	maxImageCount       = 4
)

// Run boots the wallet backend over the supplied store.
func Run(ctx context.Context, cfg Config, store Store, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	codec, err := session.NewTokenCodec([]byte(cfg.TokenSigningKey), cfg.TokenIssuer, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	service, err := NewService(store, codec, logger, cfg)
	if err != nil {
		return err
	}

	router := NewRouter(cfg, service, codec, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletd listening", zap.String("addr", cfg.ListenAddr))
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

// NewRouter wires the REST surface. Exposed for tests.
func NewRouter(cfg Config, service *Service, codec *session.TokenCodec, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		logger:  logger,
		service: service,
		gallery: map[string][]imagePayload{},
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := router.Group("/auth")
	auth.POST("/register", handler.handleRegister)
	auth.POST("/login", handler.handleLogin)
	auth.POST("/google", handler.handleGoogleLogin)
	auth.POST("/send-verification", handler.handleSendVerification)
	auth.POST("/verify-email", handler.handleVerifyEmail)
	auth.POST("/reset-password", handler.handleResetPassword)

	router.POST("/payments/confirm", handler.handleConfirmPayment)

	authed := router.Group("/")
	authed.Use(bearerMiddleware(codec))
	authed.GET("/user/profile", handler.handleProfile)
	authed.PUT("/user/profile", handler.handleUpdateProfile)
	authed.GET("/credits/balance", handler.handleBalance)
	authed.GET("/credits/packages", handler.handlePackages)
	authed.GET("/credits/transactions", handler.handleTransactions)
	authed.POST("/credits/consume", handler.handleConsume)
	authed.POST("/credits/recharge", handler.handleRecharge)
	authed.POST("/images/generate", handler.handleGenerateImages)
	authed.GET("/images/history", handler.handleImageHistory)

	return router
}

func bearerMiddleware(codec *session.TokenCodec) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing bearer token"))
			return
		}
		principal, err := codec.Decode(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "invalid session token"))
			return
		}
		ctx.Set(principalContextKey, principal)
		ctx.Next()
	}
}

func getPrincipal(ctx *gin.Context) (session.Principal, bool) {
	value, exists := ctx.Get(principalContextKey)
	if !exists {
		return session.Principal{}, false
	}
	principal, ok := value.(session.Principal)
	return principal, ok
}

type httpHandler struct {
	logger  *zap.Logger
	service *Service

	galleryMu sync.Mutex
	gallery   map[string][]imagePayload
}

type userPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type transactionPayload struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	CreatedAtUnix int64  `json:"created_at"`
}

type imagePayload struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	Transparent bool   `json:"transparent"`
}

func mapUserPayload(user User) userPayload {
	return userPayload{ID: user.UserID, Email: user.Email, Name: user.Name, AvatarURL: user.AvatarURL}
}

func mapTransactionPayload(transaction Transaction) transactionPayload {
	return transactionPayload{
		ID:            transaction.TransactionID,
		Type:          string(transaction.Kind),
		Amount:        transaction.Amount,
		Description:   transaction.Description,
		CreatedAtUnix: transaction.CreatedUnixUTC,
	}
}

func okEnvelope(data any, message string) gin.H {
	body := gin.H{"success": true}
	if data != nil {
		body["data"] = data
	}
	if message != "" {
		body["message"] = message
	}
	return body
}

func errorEnvelope(code string, message string) gin.H {
	return gin.H{"success": false, "error": code, "message": message}
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("invalid_credentials", err.Error()))
	case errors.Is(err, ErrUserNotVerified):
		ctx.JSON(http.StatusForbidden, errorEnvelope("email_not_verified", err.Error()))
	case errors.Is(err, ErrDuplicateEmail):
		ctx.JSON(http.StatusConflict, errorEnvelope("email_taken", err.Error()))
	case errors.Is(err, ErrUnknownUser):
		ctx.JSON(http.StatusNotFound, errorEnvelope("unknown_user", err.Error()))
	case errors.Is(err, ErrInvalidCode):
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_code", err.Error()))
	case errors.Is(err, ErrInsufficientFunds):
		ctx.JSON(http.StatusPaymentRequired, errorEnvelope("insufficient_credits", err.Error()))
	case errors.Is(err, ErrInvalidConsume), errors.Is(err, ErrInvalidRecharge):
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_request", err.Error()))
	case errors.Is(err, ErrUnknownCheckout):
		ctx.JSON(http.StatusNotFound, errorEnvelope("unknown_checkout", err.Error()))
	case errors.Is(err, ErrCheckoutClosed):
		ctx.JSON(http.StatusConflict, errorEnvelope("checkout_closed", err.Error()))
	default:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorEnvelope("internal_error", "internal error"))
	}
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	var request struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	user, err := handler.service.Register(ctx.Request.Context(), request.Email, request.Password, request.Name)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"user": mapUserPayload(user)}, "verification required"))
}

func (handler *httpHandler) handleLogin(ctx *gin.Context) {
	var request struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	user, token, err := handler.service.Authenticate(ctx.Request.Context(), request.Email, request.Password)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"user": mapUserPayload(user), "token": token}, ""))
}

func (handler *httpHandler) handleGoogleLogin(ctx *gin.Context) {
	ctx.JSON(http.StatusNotImplemented, errorEnvelope("google_unavailable", "google sign-in is not configured on this deployment"))
}

func (handler *httpHandler) handleSendVerification(ctx *gin.Context) {
	var request struct {
		Email string `json:"email"`
		Type  string `json:"type"`
		Name  string `json:"name"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	code, err := handler.service.IssueVerification(ctx.Request.Context(), request.Email, request.Type)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	// No mail transport is wired; surfacing the code in the log stands in
	// for delivery.
	handler.logger.Info("verification code",
		zap.String("email", request.Email),
		zap.String("code", code))
	ctx.JSON(http.StatusOK, okEnvelope(nil, "verification code sent"))
}

func (handler *httpHandler) handleVerifyEmail(ctx *gin.Context) {
	var request struct {
		Email string `json:"email"`
		Code  string `json:"code"`
		Type  string `json:"type"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	if request.Type != "" && request.Type != CodeKindVerification {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_code", "unsupported verification type"))
		return
	}
	user, token, err := handler.service.VerifyEmail(ctx.Request.Context(), request.Email, request.Code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"user": mapUserPayload(user), "token": token}, "email verified"))
}

func (handler *httpHandler) handleResetPassword(ctx *gin.Context) {
	var request struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	if err := handler.service.ResetPassword(ctx.Request.Context(), request.Email, request.Code, request.NewPassword); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(nil, "password updated"))
}

func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	user, err := handler.service.Profile(ctx.Request.Context(), principal.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"user": mapUserPayload(user)}, ""))
}

func (handler *httpHandler) handleUpdateProfile(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	var request struct {
		Name      string `json:"name"`
		AvatarURL string `json:"avatar"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	user, err := handler.service.UpdateProfile(ctx.Request.Context(), principal.ID, request.Name, request.AvatarURL)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"user": mapUserPayload(user)}, ""))
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	balance, err := handler.service.Balance(ctx.Request.Context(), principal.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"balance": balance, "user_id": principal.ID}, ""))
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	catalog := RechargePackages()
	packages := make([]gin.H, 0, len(catalog))
	for _, item := range catalog {
		packages = append(packages, gin.H{"price_usd": item.PriceDollars, "credits": item.Credits})
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"packages": packages, "credits_per_dollar": creditsPerDollar}, ""))
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	page := queryInt(ctx, "page", 1)
	limit := queryInt(ctx, "limit", 20)
	transactions, total, err := handler.service.Transactions(ctx.Request.Context(), principal.ID, page, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, mapTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{
		"transactions": payloads,
		"total":        total,
		"page":         page,
		"limit":        limit,
	}, ""))
}

func (handler *httpHandler) handleConsume(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	var request struct {
		Amount         int64  `json:"amount"`
		Description    string `json:"description"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	transaction, balance, err := handler.service.Consume(ctx.Request.Context(), principal.ID, request.Amount, request.Description, request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{
		"transaction_id": transaction.TransactionID,
		"new_balance":    balance,
	}, ""))
}

func (handler *httpHandler) handleRecharge(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	var request struct {
		Amount        int64  `json:"amount"`
		PaymentMethod string `json:"payment_method"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	_, checkoutURL, err := handler.service.CreateCheckout(ctx.Request.Context(), principal.ID, request.Amount, request.PaymentMethod)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{"checkout_url": checkoutURL}, ""))
}

// handleConfirmPayment stands in for the payment provider webhook.
func (handler *httpHandler) handleConfirmPayment(ctx *gin.Context) {
	var request struct {
		SessionID string `json:"session_id"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	transaction, err := handler.service.ConfirmPayment(ctx.Request.Context(), request.SessionID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{
		"transaction_id": transaction.TransactionID,
		"credits":        transaction.Amount,
	}, "payment confirmed"))
}

// handleGenerateImages renders placeholder images and records them. Billing
// happens through /credits/consume with the request's idempotency key, so the
// render endpoint itself does not deduct.
func (handler *httpHandler) handleGenerateImages(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	var request struct {
		Prompt      string `json:"prompt"`
		Style       string `json:"style"`
		Transparent bool   `json:"transparent"`
		Count       int    `json:"count"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_payload", "expected JSON body"))
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		ctx.JSON(http.StatusBadRequest, errorEnvelope("invalid_prompt", "prompt is required"))
		return
	}
	count := request.Count
	if count <= 0 {
		count = defaultImageCount
	}
	if count > maxImageCount {
		count = maxImageCount
	}

	images := make([]imagePayload, 0, count)
	for index := 0; index < count; index++ {
		imageID := uuid.NewString()
		images = append(images, imagePayload{
			ID:          imageID,
			URL:         fmt.Sprintf("https://images.brushmint.dev/%s.png", imageID),
			Prompt:      request.Prompt,
			Style:       request.Style,
			Transparent: request.Transparent,
		})
	}

	handler.galleryMu.Lock()
	handler.gallery[principal.ID] = append(images, handler.gallery[principal.ID]...)
	handler.galleryMu.Unlock()

	balance, err := handler.service.Balance(ctx.Request.Context(), principal.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, okEnvelope(gin.H{
		"images":            images,
		"credits_consumed":  handler.service.GenerationCost(),
		"remaining_credits": balance,
	}, ""))
}

func (handler *httpHandler) handleImageHistory(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorEnvelope("unauthorized", "missing session"))
		return
	}
	page := queryInt(ctx, "page", 1)
	limit := queryInt(ctx, "limit", 20)

	handler.galleryMu.Lock()
	stored := handler.gallery[principal.ID]
	total := len(stored)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	pageImages := append([]imagePayload(nil), stored[start:end]...)
	handler.galleryMu.Unlock()

	ctx.JSON(http.StatusOK, okEnvelope(gin.H{
		"history": pageImages,
		"total":   total,
		"page":    page,
		"limit":   limit,
	}, ""))
}

func queryInt(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
