package config

import (
	"fmt"
	"os"

	"manito/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadCatalogSeed reads the catalog bootstrap file.
func LoadCatalogSeed(path string) (*models.CatalogSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}

	var seed models.CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}

	if err := ValidateCatalogSeed(&seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

func ValidateCatalogSeed(seed *models.CatalogSeed) error {
	categories := make(map[string]bool, len(seed.Categories))
	for _, c := range seed.Categories {
		if c.ID == "" {
			return fmt.Errorf("category %q has an empty id", c.Slug)
		}
		if categories[c.ID] {
			return fmt.Errorf("duplicate category id: %s", c.ID)
		}
		categories[c.ID] = true
		if c.CommissionRate != nil && (*c.CommissionRate < 0 || *c.CommissionRate > 1) {
			return fmt.Errorf("category %s: commission_rate must be within [0, 1]", c.ID)
		}
	}

	pros := make(map[string]bool, len(seed.Pros))
	for _, p := range seed.Pros {
		if p.ID == "" {
			return fmt.Errorf("pro %q has an empty id", p.Name)
		}
		pros[p.ID] = true
	}

	for _, s := range seed.Services {
		if s.ID == "" {
			return fmt.Errorf("service %q has an empty id", s.Title)
		}
		if !pros[s.ProID] {
			return fmt.Errorf("service %s references unknown pro %s", s.ID, s.ProID)
		}
		if !categories[s.CategoryID] {
			return fmt.Errorf("service %s references unknown category %s", s.ID, s.CategoryID)
		}
		if s.PriceCents < 0 {
			return fmt.Errorf("service %s has a negative price", s.ID)
		}
	}
	return nil
}
