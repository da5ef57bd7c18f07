package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"manito/internal/database"
	"manito/internal/domain"
	"manito/internal/geo"
	"manito/internal/models"

	"github.com/rs/zerolog"
)

type CatalogService struct {
	catalog domain.Catalog
	logger  *zerolog.Logger
}

func NewCatalogService(catalog domain.Catalog, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{catalog: catalog, logger: logger}
}

// SearchServices loads the newest matching candidates and, when a point and
// radius are given, keeps the ones whose pro has an address within the radius.
func (s *CatalogService) SearchServices(ctx context.Context, filter models.SearchFilter) ([]models.ServiceListing, error) {
	if err := validateSearch(filter); err != nil {
		return nil, err
	}
	filter.Query = strings.TrimSpace(filter.Query)

	resultLimit := models.SearchResultLimit
	if filter.Limit > 0 && filter.Limit < resultLimit {
		resultLimit = filter.Limit
	}
	filter.Limit = models.SearchCandidateLimit

	candidates, err := s.catalog.SearchServices(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search services: %w", err)
	}

	results := make([]models.ServiceListing, 0, min(len(candidates), resultLimit))
	for _, c := range candidates {
		if len(results) == resultLimit {
			break
		}
		if filter.Near != nil && filter.RadiusKm > 0 {
			points := c.Pro.Points()
			if !geo.WithinRadius(*filter.Near, points, filter.RadiusKm) {
				continue
			}
			nearest, _ := geo.MinDistanceKm(*filter.Near, points)
			c.DistanceKm = &nearest
		}
		results = append(results, c)
	}

	s.logger.Debug().
		Str("query", filter.Query).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("Service search")
	return results, nil
}

func validateSearch(f models.SearchFilter) error {
	if f.MinPriceCents != nil && *f.MinPriceCents < 0 {
		return invalid(ErrInvalidPrice, "min_price", "must not be negative")
	}
	if f.MaxPriceCents != nil && *f.MaxPriceCents < 0 {
		return invalid(ErrInvalidPrice, "max_price", "must not be negative")
	}
	if f.MinPriceCents != nil && f.MaxPriceCents != nil && *f.MinPriceCents > *f.MaxPriceCents {
		return invalid(ErrInvalidPrice, "min_price", "greater than max_price")
	}
	if f.MinRating != nil && (*f.MinRating < 0 || *f.MinRating > 5) {
		return invalid(ErrInvalidInput, "min_rating", "must be within 0..5")
	}
	if f.Near != nil && !f.Near.Valid() {
		return invalid(ErrInvalidInput, "lat", "coordinates out of range")
	}
	if f.RadiusKm < 0 {
		return invalid(ErrInvalidInput, "radius_km", "must not be negative")
	}
	return nil
}

// GetService returns inactive services as not found.
func (s *CatalogService) GetService(ctx context.Context, id string) (*models.Service, error) {
	svc, err := s.catalog.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(ErrServiceNotFound, id)
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active {
		return nil, notFound(ErrServiceNotFound, id)
	}
	return svc, nil
}

func (s *CatalogService) GetPro(ctx context.Context, id string) (*models.Pro, error) {
	pro, err := s.catalog.GetPro(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(ErrProNotFound, id)
		}
		return nil, fmt.Errorf("load pro: %w", err)
	}
	return pro, nil
}
