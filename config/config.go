package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	BotToken         string
	AdminTelegramIDs []int64
	DatabaseURL      string
	PublicURL        string
	HTTPAddr         string
	AdminAPIKey      string
	CatalogFile      string
	PanelTimeout     time.Duration
	Location         *time.Location
	RedisURL         string
	AppEnv           string
	BackupDir        string

	Robokassa RobokassaConfig
	SMTP      SMTPConfig
	Profile   ProfileConfig
}

type RobokassaConfig struct {
	Login     string
	Password1 string
	Password2 string
	Test      bool
}

// SMTPConfig — необязательный почтовый канал для уведомлений операторов.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// ProfileConfig — метаданные профиля подписки.
type ProfileConfig struct {
	Title       string
	Announce    string
	AnnounceURL string
}

// Load читает .env и переменные окружения.
func Load() (*AppConfig, error) {
	// .env необязателен, в проде всё приходит из окружения
	_ = godotenv.Load()

	cfg := &AppConfig{
		BotToken:    os.Getenv("BOT_TOKEN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		PublicURL:   strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
		CatalogFile: getenv("CATALOG_FILE", "catalog.yaml"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AppEnv:      getenv("APP_ENV", "prod"),
		BackupDir:   getenv("BACKUP_DIR", "./backups"),
		Robokassa: RobokassaConfig{
			Login:     os.Getenv("ROBOKASSA_LOGIN"),
			Password1: os.Getenv("ROBOKASSA_PASSWORD1"),
			Password2: os.Getenv("ROBOKASSA_PASSWORD2"),
			Test:      os.Getenv("ROBOKASSA_TEST") == "1" || strings.EqualFold(os.Getenv("ROBOKASSA_TEST"), "true"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			To:       splitList(os.Getenv("SMTP_TO")),
		},
		Profile: ProfileConfig{
			Title:       getenv("PROFILE_TITLE", "⚡️ SkynetVPN"),
			Announce:    os.Getenv("PROFILE_ANNOUNCE"),
			AnnounceURL: os.Getenv("PROFILE_ANNOUNCE_URL"),
		},
	}

	var missing []string
	for key, val := range map[string]string{
		"BOT_TOKEN":           cfg.BotToken,
		"DATABASE_URL":        cfg.DatabaseURL,
		"PUBLIC_URL":          cfg.PublicURL,
		"ROBOKASSA_LOGIN":     cfg.Robokassa.Login,
		"ROBOKASSA_PASSWORD1": cfg.Robokassa.Password1,
		"ROBOKASSA_PASSWORD2": cfg.Robokassa.Password2,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}

	ids, err := parseIDs(os.Getenv("ADMIN_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_IDS: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("ADMIN_TELEGRAM_IDS is empty")
	}
	cfg.AdminTelegramIDs = ids

	cfg.PanelTimeout, err = time.ParseDuration(getenv("PANEL_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("PANEL_TIMEOUT: %w", err)
	}
	cfg.Location, err = time.LoadLocation(getenv("TIMEZONE", "Europe/Moscow"))
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		cfg.SMTP.Port, err = strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT: %w", err)
		}
	} else {
		cfg.SMTP.Port = 587
	}
	return cfg, nil
}

// IsAdmin проверяет, что telegram id входит в список операторов.
func (c *AppConfig) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
