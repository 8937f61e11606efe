package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/services"
)

type updateResponse struct {
	Status        string   `json:"status"`
	SubEnd        string   `json:"sub_end"`
	FailedServers []string `json:"failed_servers,omitempty"`
}

func (s *Server) updateClient(c *gin.Context) {
	var req services.AdminUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		err = fmt.Errorf("decode body: %v: %w", err, apperr.ErrMalformedInput)
		s.Admin.Reject(c.Request.Context(), req.TelegramID, err)
		s.fail(c, err)
		return
	}
	report, err := s.Admin.Update(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := updateResponse{Status: "ok", SubEnd: report.SubEnd.In(s.Location).Format("2006-01-02")}
	for _, f := range report.Failed() {
		resp.FailedServers = append(resp.FailedServers, f.ServerName)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) clients(c *gin.Context) {
	rows, err := services.ListClients(c.Request.Context(), s.Ledger, s.Location)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
