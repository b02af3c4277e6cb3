package deye

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/deyehome/internal/config"
)

//go:embed features.yaml
var featuresYAML []byte

// Features describes what one product supports.
type Features struct {
	Modes             []Mode     `yaml:"modes"`
	FanSpeeds         []FanSpeed `yaml:"fan_speeds"`
	MinTargetHumidity int        `yaml:"min_target_humidity"`
	MaxTargetHumidity int        `yaml:"max_target_humidity"`
	Oscillating       bool       `yaml:"oscillating"`
	Anion             bool       `yaml:"anion"`
	WaterPump         bool       `yaml:"water_pump"`
}

// HasFan reports whether the product exposes fan control. Those products get
// the climate and fan entities.
func (f Features) HasFan() bool {
	return len(f.FanSpeeds) > 0
}

func (f Features) supportsMode(mode Mode) bool {
	for _, m := range f.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Default  Features            `yaml:"default"`
	Products map[string]Features `yaml:"products"`
}

// Catalog resolves product features.
type Catalog struct {
	fallback Features
	products map[string]Features
}

// LoadCatalog parses the embedded catalog and applies config overrides.
func LoadCatalog(overrides map[string]config.ProductConfig) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(featuresYAML, &file); err != nil {
		return nil, fmt.Errorf("parse feature catalog: %w", err)
	}
	c := &Catalog{fallback: file.Default, products: make(map[string]Features, len(file.Products)+len(overrides))}
	for id, f := range file.Products {
		c.products[id] = c.withDefaults(f)
	}
	for id, o := range overrides {
		f := Features{
			MinTargetHumidity: o.MinTargetHumidity,
			MaxTargetHumidity: o.MaxTargetHumidity,
			Oscillating:       o.Oscillating,
			Anion:             o.Anion,
			WaterPump:         o.WaterPump,
		}
		for _, raw := range o.Modes {
			mode, err := ParseMode(raw)
			if err != nil {
				return nil, fmt.Errorf("products[%s]: %w", id, err)
			}
			f.Modes = append(f.Modes, mode)
		}
		for _, raw := range o.FanSpeeds {
			speed, err := ParseFanSpeed(raw)
			if err != nil {
				return nil, fmt.Errorf("products[%s]: %w", id, err)
			}
			f.FanSpeeds = append(f.FanSpeeds, speed)
		}
		c.products[id] = c.withDefaults(f)
	}
	return c, nil
}

func (c *Catalog) withDefaults(f Features) Features {
	if f.MinTargetHumidity == 0 {
		f.MinTargetHumidity = c.fallback.MinTargetHumidity
	}
	if f.MaxTargetHumidity == 0 {
		f.MaxTargetHumidity = c.fallback.MaxTargetHumidity
	}
	return f
}

// Lookup returns the features for a device.
func (c *Catalog) Lookup(productID, productName string) Features {
	if f, ok := c.products[productID]; ok {
		return f
	}
	if f, ok := c.products[productName]; ok {
		return f
	}
	return c.fallback
}
