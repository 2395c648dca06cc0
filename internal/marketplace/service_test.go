package marketplace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"carboniq/farm-portal/farm-portal-backend/internal/farms"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListVerified(ctx context.Context) ([]Listing, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Listing), args.Error(1)
}

type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) IndexListing(ctx context.Context, l Listing) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockIndex) Search(ctx context.Context, term string, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, term, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleListings() []Listing {
	return []Listing{
		{ID: uuid.New(), Name: "Kilima Farm", CropTypes: pq.StringArray{"Maize", "Beans"},
			FarmingPractices: pq.StringArray{"Composting", "Cover cropping"},
			CarbonCredits:    1.2, ConfidenceScore: 0.90, CreatedAt: base.Add(2 * time.Hour)},
		{ID: uuid.New(), Name: "Green Valley", CropTypes: pq.StringArray{"Coffee"},
			FarmingPractices: pq.StringArray{"Agroforestry", "Mulching"},
			CarbonCredits:    6.5, ConfidenceScore: 0.86, CreatedAt: base},
		{ID: uuid.New(), Name: "Riverside", CropTypes: pq.StringArray{"Rice", "Maize"},
			FarmingPractices: pq.StringArray{"Water management", "No-till farming"},
			CarbonCredits:    2.2, ConfidenceScore: 0.94, CreatedAt: base.Add(time.Hour)},
	}
}

func names(ls []Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Name
	}
	return out
}

func TestBrowse_SortModes(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)
	svc := NewService(repo, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		sort SortMode
		want []string
	}{
		{SortNewest, []string{"Kilima Farm", "Riverside", "Green Valley"}},
		{SortCreditsHigh, []string{"Green Valley", "Riverside", "Kilima Farm"}},
		{SortCreditsLow, []string{"Kilima Farm", "Riverside", "Green Valley"}},
		{SortConfidence, []string{"Riverside", "Kilima Farm", "Green Valley"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			resp, err := svc.Browse(ctx, Query{Sort: tt.sort})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(resp.Farms))
		})
	}
}

func TestBrowse_FilterAndStats(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)
	svc := NewService(repo, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := svc.Browse(ctx, Query{Crop: "Maize"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 3, resp.Stats.TotalFarms)
	assert.InDelta(t, 9.9, resp.Stats.TotalCredits, 1e-9)
	assert.InDelta(t, 0.9, resp.Stats.AverageConfidence, 1e-9)
	assert.Equal(t, []string{"Beans", "Coffee", "Maize", "Rice"}, resp.Crops)

	resp, err = svc.Browse(ctx, Query{Search: "MULCH"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Green Valley"}, names(resp.Farms))

	resp, err = svc.Browse(ctx, Query{Search: "river", Crop: "Coffee"})
	require.NoError(t, err)
	assert.Empty(t, resp.Farms)

	resp, err = svc.Browse(ctx, Query{Crop: "all"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
}

func TestBrowse_CacheAndInvalidation(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)
	cache := NewCache(time.Minute)
	defer cache.Close()
	svc := NewService(repo, cache, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Browse(ctx, Query{Sort: SortCreditsHigh})
	require.NoError(t, err)
	resp, err := svc.Browse(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, "Kilima Farm", resp.Farms[0].Name)
	repo.AssertNumberOfCalls(t, "ListVerified", 1)

	credits := 3.0
	svc.FarmEvaluated(ctx, &farms.Farm{ID: uuid.New(), VerificationStatus: workflows.StatusRejected})
	assert.Equal(t, 1, cache.Size())

	svc.FarmEvaluated(ctx, &farms.Farm{ID: uuid.New(), VerificationStatus: workflows.StatusVerified, CarbonCredits: &credits})
	assert.Equal(t, 0, cache.Size())

	_, err = svc.Browse(ctx, Query{})
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "ListVerified", 2)
}

func TestBrowse_DoesNotCacheResultOverlappingInvalidation(t *testing.T) {
	repo := new(MockRepository)
	cache := NewCache(time.Minute)
	defer cache.Close()
	svc := NewService(repo, cache, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	credits := 3.0
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil).Once().Run(func(mock.Arguments) {
		// a farm becomes verified while the listing query is in flight
		svc.FarmEvaluated(ctx, &farms.Farm{ID: uuid.New(), VerificationStatus: workflows.StatusVerified, CarbonCredits: &credits})
	})
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)

	_, err := svc.Browse(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Size())

	_, err = svc.Browse(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Size())
	repo.AssertNumberOfCalls(t, "ListVerified", 2)
}

func TestCache_SetIfGeneration(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Close()

	gen := c.Generation()
	c.Clear()
	assert.False(t, c.SetIfGeneration("k", 1, gen))
	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.True(t, c.SetIfGeneration("k", 2, c.Generation()))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	disabled := NewCache(0)
	defer disabled.Close()
	assert.False(t, disabled.SetIfGeneration("k", 1, disabled.Generation()))
}

func TestBrowse_UsesSearchIndex(t *testing.T) {
	listings := sampleListings()
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(listings, nil)
	index := new(MockIndex)
	index.On("Search", mock.Anything, "coffee", searchLimit).Return([]uuid.UUID{listings[1].ID}, nil)
	index.On("Search", mock.Anything, "down", searchLimit).Return(nil, errors.New("connection refused"))
	svc := NewService(repo, nil, index, zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := svc.Browse(ctx, Query{Search: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Green Valley"}, names(resp.Farms))

	// falls back to in-memory matching
	resp, err = svc.Browse(ctx, Query{Search: "down"})
	require.NoError(t, err)
	assert.Empty(t, resp.Farms)
}

func TestFarmEvaluated_IndexesVerified(t *testing.T) {
	index := new(MockIndex)
	index.On("IndexListing", mock.Anything, mock.AnythingOfType("marketplace.Listing")).Return(nil)
	svc := NewService(new(MockRepository), nil, index, zaptest.NewLogger(t))

	credits, confidence := 1.2, 0.9
	svc.FarmEvaluated(context.Background(), &farms.Farm{
		ID:                 uuid.New(),
		Name:               "Kilima",
		VerificationStatus: workflows.StatusVerified,
		CarbonCredits:      &credits,
		ConfidenceScore:    &confidence,
	})

	index.AssertNumberOfCalls(t, "IndexListing", 1)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)
	svc := NewService(repo, nil, nil, zaptest.NewLogger(t))

	_, err := svc.Export(context.Background(), "docx", Query{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseSortMode(t *testing.T) {
	assert.Equal(t, SortCreditsLow, ParseSortMode("credits-low"))
	assert.Equal(t, SortNewest, ParseSortMode(""))
	assert.Equal(t, SortNewest, ParseSortMode("random"))
}
