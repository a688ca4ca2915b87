package main

import (
	"database/sql"

	"callbilling/internal/calls"
	"callbilling/internal/httpapi"
	"callbilling/internal/reconcile"
	"callbilling/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type httpDeps struct {
	wallet    *wallet.Service
	calls     *calls.Service
	reconcile *reconcile.Service
	db        *sql.DB
	redis     *redis.Client
	authMW    gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps httpDeps) {
	h := httpapi.Handlers{
		Wallet:    deps.wallet,
		Calls:     deps.calls,
		Reconcile: deps.reconcile,
		DB:        deps.db,
		Redis:     deps.redis,
	}

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// collaborator API group, service-token protected
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		// WALLET routes (payment gateway)
		wallets := v1.Group("/wallets")
		{
			wallets.POST("/:user_id/topup", h.TopUp)
			wallets.GET("/:user_id/balance", h.GetBalance)
		}

		// CALL routes (call-setup service)
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", h.CreateCall)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.POST("/:call_id/connect", h.ConnectCall)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
		}

		// RECONCILIATION routes (finance tooling)
		v1.GET("/reconciliation/drift", h.DriftReport)
	}
}
