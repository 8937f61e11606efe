// Package panel talks to the VPN gateway panels that hold client identities.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"skynet-vpn-bot/internal/apperr"
)

var (
	// ErrClientNotFound: the panel does not know the client id.
	ErrClientNotFound = errors.New("client not found on panel")
	// ErrClientExists: a create hit an id or label the panel already has.
	ErrClientExists = errors.New("client already exists on panel")
)

// ClientSpec is the desired state of one client on one panel.
type ClientSpec struct {
	ID              string // tun id, stable for the link lifetime
	Label           string
	DeviceLimit     int
	ExpiryMillis    int64
	TelegramID      int64
	DisplayName     string
	TrafficCapBytes int64 // 0 = unlimited
}

// Adapter is one gateway panel. Calls are idempotent for the same client id.
type Adapter interface {
	CreateClient(ctx context.Context, spec ClientSpec) error
	UpdateClient(ctx context.Context, spec ClientSpec) error
	ConnectionURI(ctx context.Context, clientID string) (string, error)
}

// Error is a classified per-server failure. Kind is apperr.ErrPanelUnavailable
// or apperr.ErrPanelRejected; Err carries the cause.
type Error struct {
	Kind   error
	Op     string
	Server string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "panel %s: %s", e.Server, e.Op)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func unavailable(server, op, msg string, err error) error {
	return &Error{Kind: apperr.ErrPanelUnavailable, Op: op, Server: server, Msg: msg, Err: err}
}

func rejected(server, op, msg string, err error) error {
	return &Error{Kind: apperr.ErrPanelRejected, Op: op, Server: server, Msg: msg, Err: err}
}

// Registry hands out the adapter built for each server id.
type Registry struct {
	adapters map[uint]Adapter
}

func NewRegistry(adapters map[uint]Adapter) *Registry {
	if adapters == nil {
		adapters = map[uint]Adapter{}
	}
	return &Registry{adapters: adapters}
}

// Adapter returns the adapter for serverID. A server without an adapter
// reports as unavailable so the caller can record it as a per-server failure.
func (r *Registry) Adapter(serverID uint) (Adapter, error) {
	a, ok := r.adapters[serverID]
	if !ok {
		return nil, unavailable(fmt.Sprintf("#%d", serverID), "resolve", "no adapter configured", nil)
	}
	return a, nil
}

// Len returns the number of configured adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
