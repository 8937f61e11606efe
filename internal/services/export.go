package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
)

// Exporter собирает профиль подписки из ссылок, которые отдают панели.
// Только чтение: ledger не меняется.
type Exporter struct {
	ledger  *db.Ledger
	panels  PanelSource
	timeout time.Duration
	log     *zap.Logger
}

func NewExporter(ledger *db.Ledger, panels PanelSource, timeout time.Duration, log *zap.Logger) *Exporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Exporter{ledger: ledger, panels: panels, timeout: timeout, log: log}
}

type Profile struct {
	User   *db.User
	URIs   []string // в порядке создания связей
	SubEnd *time.Time
}

// Export принимает токен подписки или telegram id.
func (e *Exporter) Export(ctx context.Context, token string) (*Profile, error) {
	user, err := e.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	links, err := e.ledger.ClientLinks(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load links of user %d: %w", user.ID, err)
	}

	uris := make([]string, len(links))
	var g errgroup.Group
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			uri, err := e.uri(ctx, link)
			if err != nil {
				e.log.Warn("client not resolved on server",
					zap.Uint("user_id", user.ID),
					zap.Uint("server_id", link.ServerID),
					zap.Error(err),
				)
				return nil
			}
			uris[i] = uri
			return nil
		})
	}
	_ = g.Wait()

	profile := &Profile{User: user, SubEnd: user.SubEnd}
	for _, uri := range uris {
		if uri != "" {
			profile.URIs = append(profile.URIs, uri)
		}
	}
	if len(profile.URIs) == 0 {
		return nil, fmt.Errorf("user %d has no resolvable links: %w", user.ID, apperr.ErrNotFound)
	}
	return profile, nil
}

func (e *Exporter) uri(ctx context.Context, link db.ClientLink) (string, error) {
	adapter, err := e.panels.Adapter(link.ServerID)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return adapter.ConnectionURI(callCtx, link.TunID)
}

func (e *Exporter) resolve(ctx context.Context, token string) (*db.User, error) {
	if _, err := uuid.Parse(token); err == nil {
		return e.ledger.UserByToken(ctx, token)
	}
	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		return e.ledger.UserByTelegramID(ctx, id)
	}
	return nil, fmt.Errorf("token %q: %w", token, apperr.ErrNotFound)
}
