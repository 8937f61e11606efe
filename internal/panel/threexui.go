package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/db"
)

const maxBody = 4 << 20

// ThreeXUIConfig describes one 3x-ui panel.
type ThreeXUIConfig struct {
	Name       string
	URL        string // base URL including the web base path
	Login      string
	Password   string
	InboundID  int
	PublicHost string // host put into share links, defaults to the URL host
	Flow       string
	Timeout    time.Duration
}

// ThreeXUI is an Adapter over the 3x-ui HTTP API with a cookie session.
type ThreeXUI struct {
	cfg    ThreeXUIConfig
	base   *url.URL
	client *http.Client
	log    *zap.Logger

	mu       sync.Mutex
	loggedIn bool
}

func NewThreeXUI(cfg ThreeXUIConfig, log *zap.Logger) (*ThreeXUI, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("panel %s: bad url %q", cfg.Name, cfg.URL)
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = base.Hostname()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &ThreeXUI{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			// a redirect means the session is gone
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log.With(zap.String("panel", cfg.Name)),
	}, nil
}

// BuildRegistry creates one adapter per server. Adapters live as long as the registry.
func BuildRegistry(servers []db.Server, timeout time.Duration, log *zap.Logger) (*Registry, error) {
	adapters := make(map[uint]Adapter, len(servers))
	for _, s := range servers {
		a, err := NewThreeXUI(ThreeXUIConfig{
			Name:       s.Name,
			URL:        s.URL,
			Login:      s.Login,
			Password:   s.Password,
			InboundID:  s.InboundID,
			PublicHost: s.PublicHost,
			Flow:       s.Flow,
			Timeout:    timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		adapters[s.ID] = a
	}
	return NewRegistry(adapters), nil
}

func (p *ThreeXUI) CreateClient(ctx context.Context, spec ClientSpec) error {
	body, err := p.clientBody(spec)
	if err != nil {
		return err
	}
	_, err = p.call(ctx, "create_client", http.MethodPost, "/panel/api/inbounds/addClient", body)
	return err
}

func (p *ThreeXUI) UpdateClient(ctx context.Context, spec ClientSpec) error {
	body, err := p.clientBody(spec)
	if err != nil {
		return err
	}
	_, err = p.call(ctx, "update_client", http.MethodPost, "/panel/api/inbounds/updateClient/"+url.PathEscape(spec.ID), body)
	return err
}

func (p *ThreeXUI) ConnectionURI(ctx context.Context, clientID string) (string, error) {
	const op = "get_connection_uri"
	obj, err := p.call(ctx, op, http.MethodGet, "/panel/api/inbounds/get/"+strconv.Itoa(p.cfg.InboundID), nil)
	if err != nil {
		return "", err
	}
	var in Inbound
	if err := json.Unmarshal(obj, &in); err != nil {
		return "", rejected(p.cfg.Name, op, "decode inbound", err)
	}
	var settings InboundSettings
	if err := json.Unmarshal([]byte(in.Settings), &settings); err != nil {
		return "", rejected(p.cfg.Name, op, "decode inbound settings", err)
	}
	var stream StreamSettings
	if in.StreamSettings != "" {
		if err := json.Unmarshal([]byte(in.StreamSettings), &stream); err != nil {
			return "", rejected(p.cfg.Name, op, "decode stream settings", err)
		}
	}
	for _, c := range settings.Clients {
		if c.ID == clientID {
			return VLESSURI(p.cfg.PublicHost, in, stream, c), nil
		}
	}
	return "", rejected(p.cfg.Name, op, clientID, ErrClientNotFound)
}

func (p *ThreeXUI) clientBody(spec ClientSpec) ([]byte, error) {
	settings, err := json.Marshal(clientSettings{Clients: []Client{{
		ID:         spec.ID,
		Email:      spec.Label,
		Flow:       p.cfg.Flow,
		LimitIP:    spec.DeviceLimit,
		TotalGB:    spec.TrafficCapBytes,
		ExpiryTime: spec.ExpiryMillis,
		Enable:     true,
		TgID:       spec.TelegramID,
		Comment:    spec.DisplayName,
	}}})
	if err != nil {
		return nil, err
	}
	return json.Marshal(clientRequest{ID: p.cfg.InboundID, Settings: string(settings)})
}

// call performs an authenticated request and returns envelope.obj.
// A lost session is re-established once.
func (p *ThreeXUI) call(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if err := p.ensureLogin(ctx); err != nil {
		return nil, err
	}
	status, data, err := p.do(ctx, op, method, path, "application/json", body)
	if err != nil {
		return nil, err
	}
	if sessionLost(status) {
		p.log.Info("session expired, logging in again", zap.String("op", op))
		p.resetSession()
		if err := p.ensureLogin(ctx); err != nil {
			return nil, err
		}
		status, data, err = p.do(ctx, op, method, path, "application/json", body)
		if err != nil {
			return nil, err
		}
	}
	env, err := p.decode(op, status, data)
	if err != nil {
		return nil, err
	}
	return env.Obj, nil
}

func (p *ThreeXUI) decode(op string, status int, data []byte) (*envelope, error) {
	switch {
	case status >= 500:
		return nil, unavailable(p.cfg.Name, op, fmt.Sprintf("http %d", status), nil)
	case status >= 300:
		return nil, rejected(p.cfg.Name, op, fmt.Sprintf("http %d", status), nil)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, rejected(p.cfg.Name, op, "decode response", err)
	}
	if !env.Success {
		if strings.Contains(strings.ToLower(env.Msg), "duplicate") {
			return nil, rejected(p.cfg.Name, op, env.Msg, ErrClientExists)
		}
		if strings.Contains(strings.ToLower(env.Msg), "not found") {
			return nil, rejected(p.cfg.Name, op, env.Msg, ErrClientNotFound)
		}
		return nil, rejected(p.cfg.Name, op, env.Msg, nil)
	}
	return &env, nil
}

func (p *ThreeXUI) ensureLogin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggedIn {
		return nil
	}
	const op = "login"
	form := url.Values{"username": {p.cfg.Login}, "password": {p.cfg.Password}}
	status, data, err := p.do(ctx, op, http.MethodPost, "/login", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return err
	}
	if _, err := p.decode(op, status, data); err != nil {
		return err
	}
	p.loggedIn = true
	return nil
}

func (p *ThreeXUI) resetSession() {
	p.mu.Lock()
	p.loggedIn = false
	p.mu.Unlock()
}

func (p *ThreeXUI) do(ctx context.Context, op, method, path, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, rejected(p.cfg.Name, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return 0, nil, unavailable(p.cfg.Name, op, "transport", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, unavailable(p.cfg.Name, op, "read response", err)
	}
	return resp.StatusCode, data, nil
}

func sessionLost(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusNotFound ||
		(status >= 300 && status < 400)
}
