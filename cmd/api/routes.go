package main

import (
	"context"
	"net/http"
	"time"

	"voicebridge/internal/httpapi"
	"voicebridge/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	AuthMW  gin.HandlerFunc
	Limiter *httpapi.UserRateLimiter
	API     httpapi.Handlers

	Webhooks telephony.WebhookHandler
	// SignatureMW is nil when webhook signature validation is off.
	SignatureMW gin.HandlerFunc

	// Health reports component state; a non-nil error turns /healthz into 503.
	Health func(ctx context.Context) (gin.H, error)
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body, err := d.Health(ctx)
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ok"
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Carrier webhooks (public, optionally signature checked).
	voice := r.Group("/webhooks/voice")
	if d.SignatureMW != nil {
		voice.Use(d.SignatureMW)
	}
	d.Webhooks.Register(voice)

	// Development token issuing; the handler refuses when disabled.
	r.POST("/v1/auth/login", d.API.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW)
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware())
	}
	d.API.Register(v1)
}
