package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("DATABASE_URL", "postgres://localhost/vpn")
	t.Setenv("PUBLIC_URL", "https://vpn.example.com/")
	t.Setenv("ROBOKASSA_LOGIN", "shop")
	t.Setenv("ROBOKASSA_PASSWORD1", "p1")
	t.Setenv("ROBOKASSA_PASSWORD2", "p2")
	t.Setenv("ADMIN_TELEGRAM_IDS", "111, 222")
}

func TestLoad(t *testing.T) {
	setRequired(t)
	t.Setenv("PANEL_TIMEOUT", "3s")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("ROBOKASSA_TEST", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://vpn.example.com", cfg.PublicURL)
	assert.Equal(t, []int64{111, 222}, cfg.AdminTelegramIDs)
	assert.Equal(t, 3*time.Second, cfg.PanelTimeout)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.True(t, cfg.Robokassa.Test)
	assert.True(t, cfg.IsAdmin(222))
	assert.False(t, cfg.IsAdmin(333))
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("ROBOKASSA_PASSWORD2", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROBOKASSA_PASSWORD2")
}

func TestLoadBadAdminIDs(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_TELEGRAM_IDS", "abc")

	_, err := Load()
	assert.Error(t, err)
}
