package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/marketdata"
)

// Seed is bootstrap data applied once to an empty database.
type Seed struct {
	Counterparties []CounterpartySeed      `yaml:"counterparties" json:"counterparties"`
	Policies       []PolicySeed            `yaml:"policies" json:"policies"`
	MarketData     marketdata.StaticConfig `yaml:"market_data" json:"market_data"`
}

type CounterpartySeed struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Category string `yaml:"category" json:"category"`
	Country  string `yaml:"country" json:"country"`
	TaxID    string `yaml:"tax_id" json:"tax_id"`
}

type PolicySeed struct {
	Name                 string            `yaml:"name" json:"name"`
	Description          string            `yaml:"description" json:"description"`
	Currency             string            `yaml:"currency" json:"currency"`
	ExposureType         string            `yaml:"exposure_type" json:"exposure_type"`
	CounterpartyCategory string            `yaml:"counterparty_category" json:"counterparty_category"`
	CoverageRules        map[string]string `yaml:"coverage_rules" json:"coverage_rules"`
	MinAmount            string            `yaml:"min_amount" json:"min_amount"`
	MaxSingleExposure    string            `yaml:"max_single_exposure" json:"max_single_exposure"`
	RequireApprovalAbove string            `yaml:"require_approval_above" json:"require_approval_above"`
	AutoGenerate         *bool             `yaml:"auto_generate" json:"auto_generate"`
	IsDefault            bool              `yaml:"is_default" json:"is_default"`
	Priority             int               `yaml:"priority" json:"priority"`
}

// LoadSeedFile reads YAML, falling back to JSON for .json files.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var s Seed
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &s, nil
}

// LoadMarketFile reads a standalone rate sheet in the market_data shape.
func LoadMarketFile(path string) (marketdata.StaticConfig, error) {
	var sheet marketdata.StaticConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return sheet, fmt.Errorf("read market data file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &sheet)
	} else {
		err = yaml.Unmarshal(data, &sheet)
	}
	if err != nil {
		return sheet, fmt.Errorf("parse market data file %s: %w", path, err)
	}
	if len(sheet.Spots) == 0 {
		return sheet, fmt.Errorf("market data file %s: no spots", path)
	}
	return sheet, nil
}

func (s *Seed) Validate() error {
	defaults := 0
	for i, p := range s.Policies {
		if p.Name == "" {
			return fmt.Errorf("policies[%d]: name is required", i)
		}
		if p.IsDefault {
			defaults++
		}
		for h := range p.CoverageRules {
			if !domain.Horizon(h).Valid() {
				return fmt.Errorf("policies[%d]: unknown horizon %q", i, h)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one policy may be the default, found %d", defaults)
	}
	for i, c := range s.Counterparties {
		if c.Name == "" {
			return fmt.Errorf("counterparties[%d]: name is required", i)
		}
		if !domain.CounterpartyType(c.Type).Valid() {
			return fmt.Errorf("counterparties[%d]: unknown type %q", i, c.Type)
		}
	}
	return nil
}

// DefaultSeed is used when no seed file is configured.
func DefaultSeed() *Seed {
	return &Seed{
		Policies: []PolicySeed{{
			Name:        "Default coverage",
			Description: "Ladder applied when no specific policy matches",
			Currency:    "USD",
			IsDefault:   true,
			CoverageRules: map[string]string{
				"0-30": "100", "31-60": "75", "61-90": "50", "91+": "25",
			},
			RequireApprovalAbove: "100000",
		}},
		MarketData: marketdata.DefaultStaticConfig(),
	}
}
