package database

import (
	"context"
	"testing"
	"time"

	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionRates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertCategory(ctx, &models.Category{ID: "cat-1", Slug: "cleaning", Name: "Cleaning"}))

	_, err := db.GetCommissionRate(ctx, "cat-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetCommissionRate(ctx, "cat-1", 1200))
	rate, err := db.GetCommissionRate(ctx, "cat-1")
	require.NoError(t, err)
	assert.Equal(t, pricing.Rate(1200), rate)

	require.NoError(t, db.SetCommissionRate(ctx, "cat-1", 800))
	rate, err = db.GetCommissionRate(ctx, "cat-1")
	require.NoError(t, err)
	assert.Equal(t, pricing.Rate(800), rate)

	err = db.SetCommissionRate(ctx, "cat-1", 10001)
	assert.ErrorIs(t, err, pricing.ErrRateOutOfRange)
}

func TestGetProWithAddresses(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pro := &models.Pro{
		ID:             "pro-1",
		Name:           "Luis",
		CoverageCities: []string{"Madrid", "Getafe"},
		Addresses: []models.Address{
			{ID: "a-1", Label: "Workshop", Lat: floatPtr(40.4), Lng: floatPtr(-3.7)},
			{ID: "a-2", Label: "No coordinates"},
		},
	}
	require.NoError(t, db.UpsertPro(ctx, pro))

	got, err := db.GetPro(ctx, "pro-1")
	require.NoError(t, err)
	assert.Equal(t, "Luis", got.Name)
	assert.Equal(t, []string{"Madrid", "Getafe"}, got.CoverageCities)
	require.Len(t, got.Addresses, 2)
	assert.Nil(t, got.Addresses[1].Lat)
	assert.Len(t, got.Points(), 1)

	pro.Addresses = pro.Addresses[:1]
	require.NoError(t, db.UpsertPro(ctx, pro))
	got, err = db.GetPro(ctx, "pro-1")
	require.NoError(t, err)
	assert.Len(t, got.Addresses, 1)

	_, err = db.GetPro(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetService(t *testing.T) {
	db := setupTestDB(t)
	_, svc := seedTestCatalog(t, db)
	ctx := context.Background()

	got, err := db.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.PriceCents)
	assert.Equal(t, models.PricingFixed, got.PricingType)
	assert.True(t, got.Active)

	_, err = db.GetService(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchServices(t *testing.T) {
	db := setupTestDB(t)
	pro, _ := seedTestCatalog(t, db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	extra := []*models.Service{
		{ID: "svc-2", ProID: pro.ID, CategoryID: "cat-plumbing", Title: "Unclog drain", PriceCents: 6000, Active: true, CreatedAt: base.Add(time.Hour)},
		{ID: "svc-3", ProID: pro.ID, CategoryID: "cat-plumbing", Title: "Install 100% new boiler", PriceCents: 90000, Active: true, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "svc-4", ProID: pro.ID, CategoryID: "cat-plumbing", Title: "Retired offer", PriceCents: 100, Active: false, CreatedAt: base},
	}
	for _, s := range extra {
		require.NoError(t, db.UpsertService(ctx, s))
	}

	t.Run("ActiveOnlyNewestFirst", func(t *testing.T) {
		listings, err := db.SearchServices(ctx, models.SearchFilter{})
		require.NoError(t, err)
		require.Len(t, listings, 3)
		assert.Equal(t, "svc-1", listings[0].Service.ID)
		assert.Equal(t, "svc-3", listings[1].Service.ID)
		assert.Equal(t, "svc-2", listings[2].Service.ID)
		require.Len(t, listings[0].Pro.Addresses, 1)
		assert.Same(t, listings[0].Pro, listings[1].Pro)
	})

	t.Run("TextQuery", func(t *testing.T) {
		listings, err := db.SearchServices(ctx, models.SearchFilter{Query: "drain"})
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "svc-2", listings[0].Service.ID)
	})

	t.Run("LikeWildcardsAreLiteral", func(t *testing.T) {
		listings, err := db.SearchServices(ctx, models.SearchFilter{Query: "100%"})
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "svc-3", listings[0].Service.ID)
	})

	t.Run("PriceRange", func(t *testing.T) {
		minPrice, maxPrice := int64(2500), int64(6000)
		listings, err := db.SearchServices(ctx, models.SearchFilter{MinPriceCents: &minPrice, MaxPriceCents: &maxPrice})
		require.NoError(t, err)
		assert.Len(t, listings, 2)
	})

	t.Run("MinRating", func(t *testing.T) {
		listings, err := db.SearchServices(ctx, models.SearchFilter{MinRating: floatPtr(4.8)})
		require.NoError(t, err)
		assert.Empty(t, listings)
	})

	t.Run("CategoryAndLimit", func(t *testing.T) {
		listings, err := db.SearchServices(ctx, models.SearchFilter{CategoryID: "cat-plumbing", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, listings, 1)
	})
}

func TestSeedCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := &models.CatalogSeed{
		Categories: []models.SeedCategory{
			{Category: models.Category{ID: "cat-a", Slug: "a", Name: "A"}, CommissionRate: floatPtr(0.12)},
			{Category: models.Category{ID: "cat-b", Slug: "b", Name: "B"}},
		},
		Pros:     []models.Pro{{ID: "pro-1", Name: "P"}},
		Services: []models.Service{{ID: "svc-1", ProID: "pro-1", CategoryID: "cat-a", Title: "S", PriceCents: 1000, Active: true}},
	}
	require.NoError(t, db.SeedCatalog(ctx, seed))
	// Seeding is idempotent.
	require.NoError(t, db.SeedCatalog(ctx, seed))

	rate, err := db.GetCommissionRate(ctx, "cat-a")
	require.NoError(t, err)
	assert.Equal(t, pricing.Rate(1200), rate)

	_, err = db.GetCommissionRate(ctx, "cat-b")
	assert.ErrorIs(t, err, ErrNotFound)

	svc, err := db.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, models.PricingFixed, svc.PricingType)
}

func TestSeedCatalogRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := &models.CatalogSeed{
		Categories: []models.SeedCategory{{Category: models.Category{ID: "cat-a", Slug: "a", Name: "A"}}},
		Services:   []models.Service{{ID: "svc-1", ProID: "ghost", CategoryID: "cat-a", Title: "S"}},
	}
	require.Error(t, db.SeedCatalog(ctx, seed))

	_, err := db.GetService(ctx, "svc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
