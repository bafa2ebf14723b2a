package strategy

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/nexus/internal/domain"
)

// Presets holds the base allocations per risk level
type Presets struct {
	TopLevel map[domain.RiskLevel]map[domain.AssetClass]float64 `yaml:"top_level"`
	Equity   map[domain.RiskLevel]map[string]float64            `yaml:"equity"`
	Crypto   map[domain.RiskLevel]map[string]float64            `yaml:"crypto"`
}

// DefaultPresets returns the built-in allocation tables
func DefaultPresets() Presets {
	return Presets{
		TopLevel: map[domain.RiskLevel]map[domain.AssetClass]float64{
			domain.Conservative: {domain.Equity: 30, domain.Bonds: 50, domain.Cash: 15, domain.Crypto: 5},
			domain.Moderate:     {domain.Equity: 50, domain.Bonds: 30, domain.Cash: 10, domain.Crypto: 10},
			domain.Aggressive:   {domain.Equity: 70, domain.Bonds: 10, domain.Cash: 5, domain.Crypto: 15},
		},
		Equity: map[domain.RiskLevel]map[string]float64{
			domain.Conservative: {domain.LargeCap: 60, domain.MidCap: 20, domain.SmallCap: 5, domain.International: 15, domain.EmergingMarkets: 0},
			domain.Moderate:     {domain.LargeCap: 50, domain.MidCap: 20, domain.SmallCap: 10, domain.International: 15, domain.EmergingMarkets: 5},
			domain.Aggressive:   {domain.LargeCap: 40, domain.MidCap: 20, domain.SmallCap: 15, domain.International: 15, domain.EmergingMarkets: 10},
		},
		Crypto: map[domain.RiskLevel]map[string]float64{
			domain.Conservative: {domain.Bitcoin: 70, domain.Ethereum: 30, domain.Altcoins: 0},
			domain.Moderate:     {domain.Bitcoin: 60, domain.Ethereum: 30, domain.Altcoins: 10},
			domain.Aggressive:   {domain.Bitcoin: 50, domain.Ethereum: 30, domain.Altcoins: 20},
		},
	}
}

// LoadPresets reads preset overrides from a YAML file and merges them over
// the defaults. An empty path returns the defaults.
func LoadPresets(path string) (Presets, error) {
	if path == "" {
		return DefaultPresets(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Presets{}, fmt.Errorf("failed to read presets file: %w", err)
	}
	return ParsePresets(content)
}

// ParsePresets decodes YAML overrides and merges them over the defaults
func ParsePresets(content []byte) (Presets, error) {
	var overrides Presets
	if err := yaml.Unmarshal(content, &overrides); err != nil {
		return Presets{}, fmt.Errorf("failed to parse presets: %w", err)
	}

	p := DefaultPresets()
	for level, m := range overrides.TopLevel {
		if !level.Valid() {
			return Presets{}, fmt.Errorf("unknown risk level %q", level)
		}
		for class := range m {
			if _, ok := domain.ParseAssetClass(string(class)); !ok {
				return Presets{}, fmt.Errorf("unknown asset class %q", class)
			}
		}
		merged := make(map[domain.AssetClass]float64, len(domain.AssetClasses))
		for _, class := range domain.AssetClasses {
			merged[class] = m[class]
		}
		p.TopLevel[level] = merged
	}
	if err := mergeSubcategories(p.Equity, overrides.Equity, domain.EquitySubcategories); err != nil {
		return Presets{}, fmt.Errorf("equity presets: %w", err)
	}
	if err := mergeSubcategories(p.Crypto, overrides.Crypto, domain.CryptoSubcategories); err != nil {
		return Presets{}, fmt.Errorf("crypto presets: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Presets{}, err
	}
	return p, nil
}

func mergeSubcategories(dst, src map[domain.RiskLevel]map[string]float64, keys []string) error {
	for level, m := range src {
		if !level.Valid() {
			return fmt.Errorf("unknown risk level %q", level)
		}
		merged := make(map[string]float64, len(keys))
		for _, k := range keys {
			merged[k] = m[k]
		}
		for k := range m {
			if _, ok := merged[k]; !ok {
				return fmt.Errorf("unknown subcategory %q", k)
			}
		}
		dst[level] = merged
	}
	return nil
}

// Validate checks every preset is non-negative with a positive total
func (p Presets) Validate() error {
	for _, level := range []domain.RiskLevel{domain.Conservative, domain.Moderate, domain.Aggressive} {
		top := p.TopLevel[level]
		total := 0.0
		for class, v := range top {
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("%s preset: %s must not be negative", level, class)
			}
			total += v
		}
		if total <= 0 {
			return fmt.Errorf("%s preset: allocation total must be positive", level)
		}
		for name, table := range map[string]map[domain.RiskLevel]map[string]float64{"equity": p.Equity, "crypto": p.Crypto} {
			sum := 0.0
			for sub, v := range table[level] {
				if v < 0 {
					return fmt.Errorf("%s %s preset: %s must not be negative", level, name, sub)
				}
				sum += v
			}
			if sum <= 0 {
				return fmt.Errorf("%s %s preset: total must be positive", level, name)
			}
		}
	}
	return nil
}
