package models

import (
	"time"

	"manito/internal/geo"
	"manito/internal/pricing"
)

type PricingType string

const (
	PricingFixed  PricingType = "FIXED"
	PricingHourly PricingType = "HOURLY"
)

// Service is a unit of work offered by a professional.
type Service struct {
	ID          string      `json:"id" yaml:"id"`
	ProID       string      `json:"pro_id" yaml:"pro_id"`
	CategoryID  string      `json:"category_id" yaml:"category_id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	PriceCents  int64       `json:"price_cents" yaml:"price_cents"`
	PricingType PricingType `json:"pricing_type" yaml:"pricing_type"`
	Active      bool        `json:"active" yaml:"active"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
}

type Category struct {
	ID   string `json:"id" yaml:"id"`
	Slug string `json:"slug" yaml:"slug"`
	Name string `json:"name" yaml:"name"`
}

// Commission is the platform fee configured for a category.
type Commission struct {
	CategoryID string       `json:"category_id"`
	Rate       pricing.Rate `json:"rate_bps"`
}

type Address struct {
	ID    string   `json:"id" yaml:"id"`
	Label string   `json:"label" yaml:"label"`
	Lat   *float64 `json:"lat,omitempty" yaml:"lat"`
	Lng   *float64 `json:"lng,omitempty" yaml:"lng"`
}

// Point returns the coordinates when both are known.
func (a Address) Point() (geo.Point, bool) {
	if a.Lat == nil || a.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *a.Lat, Lng: *a.Lng}, true
}

type Pro struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Bio             string    `json:"bio,omitempty" yaml:"bio"`
	ServiceRadiusKm float64   `json:"service_radius_km" yaml:"service_radius_km"`
	CoverageCities  []string  `json:"coverage_cities" yaml:"coverage_cities"`
	RatingAvg       float64   `json:"rating_avg" yaml:"rating_avg"`
	RatingCount     int64     `json:"rating_count" yaml:"rating_count"`
	Addresses       []Address `json:"addresses" yaml:"addresses"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// Points returns the coordinates of every geocoded address.
func (p *Pro) Points() []geo.Point {
	points := make([]geo.Point, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		if pt, ok := a.Point(); ok {
			points = append(points, pt)
		}
	}
	return points
}

// ServiceListing is one catalog search hit.
type ServiceListing struct {
	Service    *Service `json:"service"`
	Pro        *Pro     `json:"pro"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// SearchFilter narrows catalog search. Zero values disable a filter.
type SearchFilter struct {
	Query         string
	CategoryID    string
	MinPriceCents *int64
	MaxPriceCents *int64
	MinRating     *float64
	Near          *geo.Point
	RadiusKm      float64
	Limit         int
}

// CatalogSeed is the YAML document used to bootstrap catalog data.
type CatalogSeed struct {
	Categories []SeedCategory `yaml:"categories"`
	Pros       []Pro          `yaml:"pros"`
	Services   []Service      `yaml:"services"`
}

type SeedCategory struct {
	Category       `yaml:",inline"`
	CommissionRate *float64 `yaml:"commission_rate"`
}
