// Package api exposes the HTTP surface: the Robokassa callbacks, the
// subscription profile and the operator endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skynet-vpn-bot/config"
	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/services"
)

type Deps struct {
	Ledger   *db.Ledger
	Webhook  *services.PaymentWebhook
	Checkout *services.Checkout
	Exporter *services.Exporter
	Admin    *services.AdminUpdater
	Profile  config.ProfileConfig
	APIKey   string
	Location *time.Location
	Log      *zap.Logger
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{Deps: d}
}

// Router собирает gin-движок со всеми маршрутами.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Recovery(s.Log), RequestLogger(s.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	pay := r.Group("/payment")
	pay.POST("/result", s.paymentResult)
	pay.GET("/result", s.paymentResult)
	pay.GET("/checkout", s.checkout)

	r.GET("/api/subscription", s.subscription)
	// старое написание, ссылки с ним уже розданы клиентам
	r.GET("/api/subscribtion", s.subscription)

	admin := r.Group("/api", RequireAPIKey(s.APIKey))
	admin.POST("/update_client", s.updateClient)
	admin.GET("/clients", s.clients)
	return r
}

func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
