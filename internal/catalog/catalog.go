// Package catalog loads gateway servers and tariffs from the YAML catalogue
// and syncs them into the ledger.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/validator"
)

// Catalog is the catalog.yaml file.
type Catalog struct {
	Servers []Server `yaml:"servers" validate:"dive"`
	Tariffs []Tariff `yaml:"tariffs" validate:"required,min=1,dive"`
}

type Server struct {
	ID            uint   `yaml:"id" validate:"required"`
	Name          string `yaml:"name" validate:"required,max=64"`
	URL           string `yaml:"url" validate:"required,url"`
	Login         string `yaml:"login" validate:"required"`
	Password      string `yaml:"password" validate:"required"`
	InboundID     int    `yaml:"inbound_id" validate:"required,min=1"`
	MetersTraffic bool   `yaml:"meters_traffic"`
	PublicHost    string `yaml:"public_host" validate:"omitempty,hostname|ip"`
	Flow          string `yaml:"flow" validate:"omitempty,oneof=xtls-rprx-vision"`
	Disabled      bool   `yaml:"disabled"`
}

type Tariff struct {
	ID          uint   `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Days        int    `yaml:"days" validate:"required,min=1"`
	Price       string `yaml:"price" validate:"required,numeric"`
	DeviceLimit int    `yaml:"device_limit" validate:"required,min=1"`
	TrafficGB   int64  `yaml:"traffic_gb" validate:"min=0"`
	Disabled    bool   `yaml:"disabled"`
}

// Load reads and validates the catalogue at path.
func Load(path string, v *validator.Validator) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, v)
}

func Parse(data []byte, v *validator.Validator) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := v.Validate(c); err != nil {
		return nil, err
	}
	if err := c.checkUnique(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) checkUnique() error {
	serverIDs := map[uint]bool{}
	names := map[string]bool{}
	for _, s := range c.Servers {
		if serverIDs[s.ID] || names[s.Name] {
			return fmt.Errorf("catalog: duplicate server %d %q", s.ID, s.Name)
		}
		serverIDs[s.ID], names[s.Name] = true, true
	}
	tariffIDs := map[uint]bool{}
	for _, t := range c.Tariffs {
		if tariffIDs[t.ID] {
			return fmt.Errorf("catalog: duplicate tariff %d", t.ID)
		}
		tariffIDs[t.ID] = true
	}
	return nil
}

// Sync upserts every entry and deactivates servers and tariffs missing from the file.
// Rows are never deleted: client links and payments keep referencing them.
func Sync(ctx context.Context, c *Catalog, ledger *db.Ledger, log *zap.Logger) error {
	var serverIDs []uint
	for _, s := range c.Servers {
		row := &db.Server{
			ID:            s.ID,
			Name:          s.Name,
			URL:           s.URL,
			Login:         s.Login,
			Password:      s.Password,
			InboundID:     s.InboundID,
			MetersTraffic: s.MetersTraffic,
			PublicHost:    s.PublicHost,
			Flow:          s.Flow,
			IsActive:      !s.Disabled,
		}
		if err := ledger.SaveServer(ctx, row); err != nil {
			return fmt.Errorf("save server %s: %w", s.Name, err)
		}
		if row.IsActive {
			serverIDs = append(serverIDs, s.ID)
		}
	}
	if err := ledger.DeactivateServersExcept(ctx, serverIDs); err != nil {
		return fmt.Errorf("deactivate servers: %w", err)
	}

	var tariffIDs []uint
	for _, t := range c.Tariffs {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return fmt.Errorf("tariff %d price: %w", t.ID, err)
		}
		row := &db.Tariff{
			ID:          t.ID,
			Name:        t.Name,
			Days:        t.Days,
			Price:       price.Round(2),
			DeviceLimit: t.DeviceLimit,
			TrafficGB:   t.TrafficGB,
			IsActive:    !t.Disabled,
		}
		if err := ledger.SaveTariff(ctx, row); err != nil {
			return fmt.Errorf("save tariff %d: %w", t.ID, err)
		}
		if row.IsActive {
			tariffIDs = append(tariffIDs, t.ID)
		}
	}
	if err := ledger.DeactivateTariffsExcept(ctx, tariffIDs); err != nil {
		return fmt.Errorf("deactivate tariffs: %w", err)
	}

	log.Info("catalog synced", zap.Int("servers", len(serverIDs)), zap.Int("tariffs", len(tariffIDs)))
	return nil
}
