package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"skynet-vpn-bot/internal/apperr"
)

// subscription отдаёт профиль подписки: ссылки по одной на строку, метаданные в заголовках.
func (s *Server) subscription(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusNotFound, "not found")
		return
	}
	profile, err := s.Exporter.Export(c.Request.Context(), token)
	if err != nil {
		c.String(apperr.HTTPStatus(err), "not found")
		return
	}

	var expire int64
	if profile.SubEnd != nil {
		expire = profile.SubEnd.Unix()
	}
	h := c.Writer.Header()
	h.Set("profile-title", armor(s.Profile.Title))
	if s.Profile.Announce != "" {
		h.Set("announce", armor(s.Profile.Announce))
	}
	if s.Profile.AnnounceURL != "" {
		h.Set("announce-url", s.Profile.AnnounceURL)
	}
	h.Set("subscription-userinfo", "expire="+strconv.FormatInt(expire, 10))
	h.Set("profile-update-interval", "12")
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Referrer-Policy", "no-referrer-when-downgrade")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Permissions-Policy", "geolocation=(), microphone=()")
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(strings.Join(profile.URIs, "\n")))
}

func armor(text string) string {
	return "base64:" + base64.StdEncoding.EncodeToString([]byte(text))
}
