package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db/dbtest"
	"skynet-vpn-bot/internal/validator"
)

const sample = `
servers:
  - id: 1
    name: nl
    url: https://nl.example.com:2053/panel-path
    login: admin
    password: secret
    inbound_id: 3
    flow: xtls-rprx-vision
  - id: 2
    name: de
    url: https://de.example.com:2053
    login: admin
    password: secret
    inbound_id: 1
    meters_traffic: true
tariffs:
  - id: 1
    name: Месяц
    days: 30
    price: "299"
    device_limit: 3
  - id: 2
    name: Год
    days: 365
    price: "2490.50"
    device_limit: 5
    traffic_gb: 500
`

func TestParseAndSync(t *testing.T) {
	c, err := Parse([]byte(sample), validator.New())
	require.NoError(t, err)
	require.Len(t, c.Servers, 2)
	assert.True(t, c.Servers[1].MetersTraffic)

	ledger := dbtest.New(t)
	ctx := context.Background()
	require.NoError(t, Sync(ctx, c, ledger, zap.NewNop()))

	servers, err := ledger.ActiveServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "xtls-rprx-vision", servers[0].Flow)

	tariff, err := ledger.TariffByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, tariff.Price.Equal(decimal.RequireFromString("2490.5")))
	assert.Equal(t, int64(500)<<30, tariff.TrafficCapBytes())

	// сервер de убран из каталога
	c.Servers = c.Servers[:1]
	c.Tariffs[0].Disabled = true
	require.NoError(t, Sync(ctx, c, ledger, zap.NewNop()))

	servers, err = ledger.ActiveServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "nl", servers[0].Name)

	tariffs, err := ledger.Tariffs(ctx)
	require.NoError(t, err)
	require.Len(t, tariffs, 1)
	assert.Equal(t, uint(2), tariffs[0].ID)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		desc string
		yaml string
	}{
		{"no tariffs", "servers: []\n"},
		{"zero days", "tariffs:\n  - {id: 1, name: x, days: 0, price: \"10\", device_limit: 1}\n"},
		{"bad price", "tariffs:\n  - {id: 1, name: x, days: 30, price: abc, device_limit: 1}\n"},
		{"bad url", "servers:\n  - {id: 1, name: nl, url: nope, login: a, password: b, inbound_id: 1}\ntariffs:\n  - {id: 1, name: x, days: 30, price: \"10\", device_limit: 1}\n"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml), validator.New())
		require.Error(t, err, tt.desc)
		assert.True(t, errors.Is(err, apperr.ErrMalformedInput), tt.desc)
	}
}

func TestParseRejectsDuplicates(t *testing.T) {
	dup := "tariffs:\n  - {id: 1, name: x, days: 30, price: \"10\", device_limit: 1}\n  - {id: 1, name: y, days: 60, price: \"20\", device_limit: 1}\n"
	_, err := Parse([]byte(dup), validator.New())
	assert.ErrorContains(t, err, "duplicate tariff 1")
}
