package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"manito/internal/models"
	"manito/internal/pricing"
)

func (db *DB) UpsertCategory(ctx context.Context, c *models.Category) error {
	return upsertCategory(ctx, db, c)
}

func upsertCategory(ctx context.Context, q queryer, c *models.Category) error {
	query := `INSERT INTO categories (id, slug, name) VALUES (?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET slug = excluded.slug, name = excluded.name`
	if _, err := q.ExecContext(ctx, query, c.ID, c.Slug, c.Name); err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", c.ID, err)
	}
	return nil
}

func (db *DB) SetCommissionRate(ctx context.Context, categoryID string, rate pricing.Rate) error {
	return db.setCommissionRate(ctx, db, categoryID, rate)
}

func (db *DB) setCommissionRate(ctx context.Context, q queryer, categoryID string, rate pricing.Rate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: %d bps", pricing.ErrRateOutOfRange, rate)
	}
	query := `INSERT INTO commissions (category_id, rate_bps, updated_at) VALUES (?, ?, ?)
              ON CONFLICT(category_id) DO UPDATE SET rate_bps = excluded.rate_bps, updated_at = excluded.updated_at`
	if _, err := q.ExecContext(ctx, query, categoryID, int64(rate), formatTime(db.timestamp())); err != nil {
		return fmt.Errorf("failed to set commission for %s: %w", categoryID, err)
	}
	return nil
}

// GetCommissionRate returns ErrNotFound when the category has no configured rate.
func (db *DB) GetCommissionRate(ctx context.Context, categoryID string) (pricing.Rate, error) {
	var bps int64
	err := db.QueryRowContext(ctx, `SELECT rate_bps FROM commissions WHERE category_id = ?`, categoryID).Scan(&bps)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("commission for category %s: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get commission rate: %w", err)
	}
	return pricing.Rate(bps), nil
}

// UpsertPro stores a professional and replaces the address list.
func (db *DB) UpsertPro(ctx context.Context, p *models.Pro) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := db.upsertPro(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) upsertPro(ctx context.Context, q queryer, p *models.Pro) error {
	cities := p.CoverageCities
	if cities == nil {
		cities = []string{}
	}
	citiesJSON, err := json.Marshal(cities)
	if err != nil {
		return fmt.Errorf("failed to encode coverage cities: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.timestamp()
	}

	query := `INSERT INTO pros (id, name, bio, service_radius_km, coverage_cities, rating_avg, rating_count, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  bio = excluded.bio,
                  service_radius_km = excluded.service_radius_km,
                  coverage_cities = excluded.coverage_cities,
                  rating_avg = excluded.rating_avg,
                  rating_count = excluded.rating_count`
	_, err = q.ExecContext(ctx, query,
		p.ID, p.Name, p.Bio, p.ServiceRadiusKm, string(citiesJSON),
		p.RatingAvg, p.RatingCount, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pro %s: %w", p.ID, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM addresses WHERE pro_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear addresses: %w", err)
	}
	for _, a := range p.Addresses {
		_, err := q.ExecContext(ctx,
			`INSERT INTO addresses (id, pro_id, label, lat, lng) VALUES (?, ?, ?, ?, ?)`,
			a.ID, p.ID, a.Label, a.Lat, a.Lng,
		)
		if err != nil {
			return fmt.Errorf("failed to insert address %s: %w", a.ID, err)
		}
	}
	return nil
}

func (db *DB) GetPro(ctx context.Context, id string) (*models.Pro, error) {
	var (
		p          models.Pro
		citiesJSON string
	)
	query := `SELECT id, name, bio, service_radius_km, coverage_cities, rating_avg, rating_count, created_at
              FROM pros WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Bio, &p.ServiceRadiusKm, &citiesJSON, &p.RatingAvg, &p.RatingCount, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pro %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pro: %w", err)
	}
	if err := json.Unmarshal([]byte(citiesJSON), &p.CoverageCities); err != nil {
		return nil, fmt.Errorf("failed to decode coverage cities: %w", err)
	}

	addresses, err := db.addressesFor(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Addresses = addresses[p.ID]
	return &p, nil
}

func (db *DB) addressesFor(ctx context.Context, proIDs []string) (map[string][]models.Address, error) {
	result := make(map[string][]models.Address, len(proIDs))
	if len(proIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(proIDs)), ",")
	args := make([]any, len(proIDs))
	for i, id := range proIDs {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, pro_id, label, lat, lng FROM addresses WHERE pro_id IN (`+placeholders+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a     models.Address
			proID string
		)
		if err := rows.Scan(&a.ID, &proID, &a.Label, &a.Lat, &a.Lng); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		result[proID] = append(result[proID], a)
	}
	return result, rows.Err()
}

func (db *DB) UpsertService(ctx context.Context, s *models.Service) error {
	return db.upsertService(ctx, db, s)
}

func (db *DB) upsertService(ctx context.Context, q queryer, s *models.Service) error {
	if s.PricingType == "" {
		s.PricingType = models.PricingFixed
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.timestamp()
	}
	query := `INSERT INTO services (id, pro_id, category_id, title, description, price_cents, pricing_type, active, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  pro_id = excluded.pro_id,
                  category_id = excluded.category_id,
                  title = excluded.title,
                  description = excluded.description,
                  price_cents = excluded.price_cents,
                  pricing_type = excluded.pricing_type,
                  active = excluded.active`
	_, err := q.ExecContext(ctx, query,
		s.ID, s.ProID, s.CategoryID, s.Title, s.Description, s.PriceCents,
		string(s.PricingType), s.Active, formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", s.ID, err)
	}
	return nil
}

const serviceColumns = `s.id, s.pro_id, s.category_id, s.title, s.description, s.price_cents, s.pricing_type, s.active, s.created_at`

func scanService(row interface{ Scan(...any) error }, s *models.Service) error {
	var pricingType string
	if err := row.Scan(
		&s.ID, &s.ProID, &s.CategoryID, &s.Title, &s.Description,
		&s.PriceCents, &pricingType, &s.Active, &s.CreatedAt,
	); err != nil {
		return err
	}
	s.PricingType = models.PricingType(pricingType)
	return nil
}

// GetService returns inactive services too; callers decide whether they are bookable.
func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	var s models.Service
	err := scanService(db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.id = ?`, id), &s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &s, nil
}

// SearchServices returns active services matching the SQL-expressible filters,
// newest first, with each pro's addresses loaded. Distance filtering is left
// to the caller.
func (db *DB) SearchServices(ctx context.Context, f models.SearchFilter) ([]models.ServiceListing, error) {
	var (
		where = []string{"s.active = 1"}
		args  []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(s.title LIKE ? ESCAPE '\\' OR s.description LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(q) + "%"
		args = append(args, pattern, pattern)
	}
	if f.CategoryID != "" {
		where = append(where, "s.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.MinPriceCents != nil {
		where = append(where, "s.price_cents >= ?")
		args = append(args, *f.MinPriceCents)
	}
	if f.MaxPriceCents != nil {
		where = append(where, "s.price_cents <= ?")
		args = append(args, *f.MaxPriceCents)
	}
	if f.MinRating != nil {
		where = append(where, "p.rating_avg >= ?")
		args = append(args, *f.MinRating)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = models.SearchCandidateLimit
	}
	args = append(args, limit)

	query := `SELECT ` + serviceColumns + `, p.id, p.name, p.bio, p.service_radius_km, p.coverage_cities,
                     p.rating_avg, p.rating_count, p.created_at
              FROM services s JOIN pros p ON p.id = s.pro_id
              WHERE ` + strings.Join(where, " AND ") + `
              ORDER BY s.created_at DESC, s.id ASC LIMIT ?`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search services: %w", err)
	}
	defer rows.Close()

	var (
		listings []models.ServiceListing
		pros     = make(map[string]*models.Pro)
		proIDs   []string
	)
	for rows.Next() {
		var (
			s           models.Service
			p           models.Pro
			pricingType string
			citiesJSON  string
		)
		if err := rows.Scan(
			&s.ID, &s.ProID, &s.CategoryID, &s.Title, &s.Description, &s.PriceCents, &pricingType, &s.Active, &s.CreatedAt,
			&p.ID, &p.Name, &p.Bio, &p.ServiceRadiusKm, &citiesJSON, &p.RatingAvg, &p.RatingCount, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service listing: %w", err)
		}
		s.PricingType = models.PricingType(pricingType)

		pro, ok := pros[p.ID]
		if !ok {
			if err := json.Unmarshal([]byte(citiesJSON), &p.CoverageCities); err != nil {
				return nil, fmt.Errorf("failed to decode coverage cities: %w", err)
			}
			pro = &p
			pros[p.ID] = pro
			proIDs = append(proIDs, p.ID)
		}
		listings = append(listings, models.ServiceListing{Service: &s, Pro: pro})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate service listings: %w", err)
	}
	rows.Close()

	addresses, err := db.addressesFor(ctx, proIDs)
	if err != nil {
		return nil, err
	}
	for id, pro := range pros {
		pro.Addresses = addresses[id]
	}
	return listings, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SeedCatalog upserts categories, commissions, pros and services in one transaction.
func (db *DB) SeedCatalog(ctx context.Context, seed *models.CatalogSeed) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := range seed.Categories {
		c := &seed.Categories[i]
		if err := upsertCategory(ctx, tx, &c.Category); err != nil {
			return err
		}
		if c.CommissionRate == nil {
			continue
		}
		rate, err := pricing.RateFromFraction(*c.CommissionRate)
		if err != nil {
			return fmt.Errorf("category %s: %w", c.ID, err)
		}
		if err := db.setCommissionRate(ctx, tx, c.ID, rate); err != nil {
			return err
		}
	}
	for i := range seed.Pros {
		if err := db.upsertPro(ctx, tx, &seed.Pros[i]); err != nil {
			return err
		}
	}
	for i := range seed.Services {
		if err := db.upsertService(ctx, tx, &seed.Services[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog seed: %w", err)
	}
	db.logger.Info().
		Int("categories", len(seed.Categories)).
		Int("pros", len(seed.Pros)).
		Int("services", len(seed.Services)).
		Msg("Catalog seeded")
	return nil
}
