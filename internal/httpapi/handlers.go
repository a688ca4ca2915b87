package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/calls"
	"callbilling/internal/reconcile"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
	"callbilling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
//
// This API serves external collaborators only: the call-setup service drives
// call lifecycle, the payment gateway posts top-ups. The metering loop itself
// has no HTTP surface.
type Handlers struct {
	Wallet    *wallet.Service
	Calls     *calls.Service
	Reconcile *reconcile.Service

	// DB and Redis back the readiness probe.
	DB    *sql.DB
	Redis *redis.Client
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports store connectivity for the external health check.
func (h Handlers) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	if h.DB != nil {
		if err := utils.HealthCheck(ctx, h.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
	}
	if h.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.Redis.Ping(pingCtx).Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Wallet ---

type topUpRequest struct {
	AmountMicros int64 `json:"amount_micros"`
}

// TopUp credits a wallet. Called by the payment gateway after a successful
// charge; the wallet is created lazily on first credit.
func (h Handlers) TopUp(c *gin.Context) {
	userID := c.Param("user_id")
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	w, err := h.Wallet.TopUp(c.Request.Context(), userID, req.AmountMicros)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and positive amount_micros required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "top-up failed"})
		return
	}
	// Stamp the credit with the collaborator that posted it.
	svc, _ := auth.Service(c.Request.Context())
	logger.FromGin(c).Info("wallet credited",
		"user_id", userID,
		"amount_micros", req.AmountMicros,
		"service", svc,
	)
	c.JSON(http.StatusOK, w)
}

func (h Handlers) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	w, err := h.Wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// --- Calls ---

// CreateCall registers a ringing call on behalf of the call-setup service.
func (h Handlers) CreateCall(c *gin.Context) {
	var req calls.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Calls.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "caller_id and callee_id required and distinct"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call creation failed"})
		return
	}
	c.JSON(http.StatusCreated, call)
}

// ConnectCall marks both parties joined; billing eligibility starts here.
func (h Handlers) ConnectCall(c *gin.Context) {
	call, err := h.Calls.Connect(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) HangupCall(c *gin.Context) {
	call, err := h.Calls.Hangup(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid call state transition"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call operation failed"})
	}
}

// --- Reconciliation ---

// DriftReport returns billing drift over a window (RFC3339 from/to params).
func (h Handlers) DriftReport(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}
	rep, err := h.Reconcile.DriftReport(c.Request.Context(), reconcile.ReportRequest{From: from, To: to})
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "drift report failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}
