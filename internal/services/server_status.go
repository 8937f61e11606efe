package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"skynet-vpn-bot/internal/db"
)

// ServerStatus — строка списка серверов для операторов.
type ServerStatus struct {
	ID        uint
	Name      string
	Host      string
	InboundID int
	Active    bool
	Clients   int64
	Meters    bool
}

// ServerStatuses возвращает серверы каталога вместе с числом выданных клиентов.
// Доступность панелей здесь не проверяется.
func ServerStatuses(ctx context.Context, ledger *db.Ledger) ([]ServerStatus, error) {
	servers, err := ledger.Servers(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := ledger.LinksPerServer(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ServerStatus, 0, len(servers))
	for _, srv := range servers {
		host := srv.PublicHost
		if host == "" {
			if u, err := url.Parse(srv.URL); err == nil {
				host = u.Hostname()
			}
		}
		out = append(out, ServerStatus{
			ID:        srv.ID,
			Name:      srv.Name,
			Host:      host,
			InboundID: srv.InboundID,
			Active:    srv.IsActive,
			Clients:   counts[srv.ID],
			Meters:    srv.MetersTraffic,
		})
	}
	return out, nil
}

// FormatServerStatuses собирает ответ на /admin_servers.
func FormatServerStatuses(statuses []ServerStatus) string {
	if len(statuses) == 0 {
		return "Серверы не настроены"
	}
	var b strings.Builder
	b.WriteString("🖥 Серверы:\n")
	for _, s := range statuses {
		state := "✅"
		if !s.Active {
			state = "⛔️"
		}
		fmt.Fprintf(&b, "\n%s #%d %s (%s), inbound %d, клиентов: %d", state, s.ID, s.Name, s.Host, s.InboundID, s.Clients)
		if s.Meters {
			b.WriteString(", учёт трафика")
		}
	}
	return b.String()
}
