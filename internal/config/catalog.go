package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tariffs.yaml
var defaultCatalog []byte

var itemCodePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// CanonicalTariff is one protected row of the catalog file.
type CanonicalTariff struct {
	ItemCode string  `yaml:"item_code"`
	Label    string  `yaml:"label"`
	Category string  `yaml:"category"`
	Price    float64 `yaml:"price"`
}

// CatalogFile is the parsed canonical tariff definition.  It is read once
// at startup and never mutated.
type CatalogFile struct {
	Tariffs   []CanonicalTariff `yaml:"tariffs"`
	FreeCodes []string          `yaml:"free_codes"`
	Aliases   map[string]string `yaml:"aliases"`
}

// LoadCatalog parses the canonical tariff file at path, or the embedded
// default when path is empty.
func LoadCatalog(path string) (CatalogFile, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return CatalogFile{}, fmt.Errorf("read tariff catalog: %w", err)
		}
		raw = b
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a canonical tariff document.  Codes are
// lower-cased; every free code and alias target must name a canonical row.
func ParseCatalog(raw []byte) (CatalogFile, error) {
	var f CatalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return CatalogFile{}, fmt.Errorf("parse tariff catalog: %w", err)
	}
	if len(f.Tariffs) == 0 {
		return CatalogFile{}, fmt.Errorf("tariff catalog: no canonical tariffs")
	}
	seen := make(map[string]bool, len(f.Tariffs))
	for i := range f.Tariffs {
		t := &f.Tariffs[i]
		t.ItemCode = strings.ToLower(strings.TrimSpace(t.ItemCode))
		t.Category = strings.ToLower(strings.TrimSpace(t.Category))
		if !itemCodePattern.MatchString(t.ItemCode) {
			return CatalogFile{}, fmt.Errorf("tariff catalog: invalid item_code %q", t.ItemCode)
		}
		if seen[t.ItemCode] {
			return CatalogFile{}, fmt.Errorf("tariff catalog: duplicate item_code %q", t.ItemCode)
		}
		if t.Price < 0 {
			return CatalogFile{}, fmt.Errorf("tariff catalog: negative price for %q", t.ItemCode)
		}
		switch t.Category {
		case "zoo", "parking", "camera", "transport":
		default:
			return CatalogFile{}, fmt.Errorf("tariff catalog: unknown category %q for %q", t.Category, t.ItemCode)
		}
		seen[t.ItemCode] = true
	}
	for i, code := range f.FreeCodes {
		code = strings.ToLower(strings.TrimSpace(code))
		if !seen[code] {
			return CatalogFile{}, fmt.Errorf("tariff catalog: free code %q is not canonical", code)
		}
		f.FreeCodes[i] = code
	}
	aliases := make(map[string]string, len(f.Aliases))
	for from, to := range f.Aliases {
		to = strings.ToLower(strings.TrimSpace(to))
		if !seen[to] {
			return CatalogFile{}, fmt.Errorf("tariff catalog: alias %q targets unknown code %q", from, to)
		}
		aliases[strings.ToLower(strings.TrimSpace(from))] = to
	}
	f.Aliases = aliases
	return f, nil
}
