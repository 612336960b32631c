// Package http exposes the order engine over a gin HTTP API.
package http

import (
	"log/slog"
	"net/http"

	"github.com/delelinus/orderledger/configs"
	"github.com/delelinus/orderledger/internal/adapter/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	orders *OrderHandler
	stream *StreamHandler
	tokens *TokenHandler
	authz  *middleware.Authz
	log    *slog.Logger
}

func NewRouter(orders *OrderHandler, stream *StreamHandler, tokens *TokenHandler, authz *middleware.Authz, log *slog.Logger) *Router {
	return &Router{orders: orders, stream: stream, tokens: tokens, authz: authz, log: log}
}

// Handler assembles the gin engine with middleware and routes.
func (r *Router) Handler(cfg configs.Config) *gin.Engine {
	if cfg.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(middleware.Metrics())
	g.Use(middleware.Logging(r.log))

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := g.Group("/v1")
	v1.POST("/token", r.tokens.IssueToken)

	v1.POST("/orders", r.authz.Require("orders.write"), r.orders.CreateOrder)
	v1.GET("/orders/stream", r.authz.Require("orders.read"), r.stream.StreamOrders)
	v1.GET("/orders/:id", r.authz.Require("orders.read"), r.orders.GetOrderByID)
	v1.GET("/products/:id", r.authz.Require("orders.read"), r.orders.GetProductByID)

	return g
}
