package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/services"
)

// paymentResult — ResultURL Robokassa. Всё, кроме "OK<InvId>", Robokassa повторит позже.
func (s *Server) paymentResult(c *gin.Context) {
	var form services.ResultForm
	if err := c.ShouldBind(&form); err != nil {
		s.Log.Warn("payment result form not parsed", zap.Error(err))
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	body, err := s.Webhook.Handle(c.Request.Context(), form)
	if err != nil {
		c.String(apperr.HTTPStatus(err), "error")
		return
	}
	c.String(http.StatusOK, body)
}

type checkoutQuery struct {
	TelegramID int64 `form:"telegram_id"`
	TariffID   uint  `form:"tariff_id"`
	AutoRenew  bool  `form:"auto_renew"`
}

// checkout создаёт счёт и перенаправляет на страницу оплаты.
func (s *Server) checkout(c *gin.Context) {
	var q checkoutQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.TelegramID == 0 || q.TariffID == 0 {
		s.fail(c, fmt.Errorf("telegram_id and tariff_id required: %w", apperr.ErrMalformedInput))
		return
	}
	link, err := s.Checkout.Create(c.Request.Context(), q.TelegramID, q.TariffID, q.AutoRenew)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, link.URL)
}
