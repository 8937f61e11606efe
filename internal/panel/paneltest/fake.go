// Package paneltest provides an in-memory panel.Adapter for tests.
package paneltest

import (
	"context"
	"fmt"
	"sync"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/panel"
)

// Fake keeps clients in memory. Failures are injected per operation.
type Fake struct {
	Name string

	mu      sync.Mutex
	clients map[string]panel.ClientSpec
	fail    map[string]error
	block   map[string]bool
	calls   map[string]int
}

func New(name string) *Fake {
	return &Fake{
		Name:    name,
		clients: map[string]panel.ClientSpec{},
		fail:    map[string]error{},
		block:   map[string]bool{},
		calls:   map[string]int{},
	}
}

// Fail makes every call of op ("create", "update", "uri") return err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// FailAll makes every operation return a PanelUnavailable error.
func (f *Fake) FailAll() {
	err := &panel.Error{Kind: apperr.ErrPanelUnavailable, Op: "any", Server: f.Name, Msg: "connection refused"}
	for _, op := range []string{"create", "update", "uri"} {
		f.Fail(op, err)
	}
}

// Hang makes op block until the caller's context is done.
func (f *Fake) Hang(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[op] = true
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Client returns the stored state of a client.
func (f *Fake) Client(id string) (panel.ClientSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	return c, ok
}

// Clients returns the number of stored clients.
func (f *Fake) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Put stores a client directly, as if created out of band.
func (f *Fake) Put(spec panel.ClientSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[spec.ID] = spec
}

// Remove deletes a client, as if removed on the panel by hand.
func (f *Fake) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, id)
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	hang := f.block[op]
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return &panel.Error{Kind: apperr.ErrPanelUnavailable, Op: op, Server: f.Name, Msg: "transport", Err: ctx.Err()}
	}
	return err
}

func (f *Fake) CreateClient(ctx context.Context, spec panel.ClientSpec) error {
	if err := f.enter(ctx, "create"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[spec.ID]; ok {
		return &panel.Error{Kind: apperr.ErrPanelRejected, Op: "create_client", Server: f.Name, Err: panel.ErrClientExists}
	}
	f.clients[spec.ID] = spec
	return nil
}

func (f *Fake) UpdateClient(ctx context.Context, spec panel.ClientSpec) error {
	if err := f.enter(ctx, "update"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[spec.ID]; !ok {
		return &panel.Error{Kind: apperr.ErrPanelRejected, Op: "update_client", Server: f.Name, Err: panel.ErrClientNotFound}
	}
	f.clients[spec.ID] = spec
	return nil
}

func (f *Fake) ConnectionURI(ctx context.Context, clientID string) (string, error) {
	if err := f.enter(ctx, "uri"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok {
		return "", &panel.Error{Kind: apperr.ErrPanelRejected, Op: "get_connection_uri", Server: f.Name, Err: panel.ErrClientNotFound}
	}
	return fmt.Sprintf("vless://%s@%s.example.com:443?security=reality#%s", c.ID, f.Name, c.Label), nil
}
