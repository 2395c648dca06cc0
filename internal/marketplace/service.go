package marketplace

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carboniq/farm-portal/farm-portal-backend/internal/farms"
	"carboniq/farm-portal/farm-portal-backend/internal/verification"
)

const (
	verifiedKey = "verified"
	searchLimit = 1000
)

type Service interface {
	Browse(ctx context.Context, q Query) (*Response, error)
	Export(ctx context.Context, format string, q Query) (*ExportFile, error)
	// Reindex pushes every verified listing into the search index
	Reindex(ctx context.Context) (int, error)
	// FarmEvaluated keeps cache and search index in step with new outcomes
	FarmEvaluated(ctx context.Context, farm *farms.Farm)
}

type marketplaceService struct {
	repo   Repository
	cache  *Cache
	index  SearchIndex
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the marketplace service. index may be nil.
func NewService(repo Repository, cache *Cache, index SearchIndex, logger *zap.Logger) Service {
	return &marketplaceService{
		repo:   repo,
		cache:  cache,
		index:  index,
		logger: logger,
		now:    time.Now,
	}
}

func (s *marketplaceService) Browse(ctx context.Context, q Query) (*Response, error) {
	all, err := s.verified(ctx)
	if err != nil {
		return nil, err
	}

	filtered := s.filter(ctx, all, q)
	sortListings(filtered, q.Sort)

	return &Response{
		Farms: filtered,
		Total: len(filtered),
		Stats: computeStats(all),
		Crops: distinctCrops(all),
	}, nil
}

func (s *marketplaceService) Export(ctx context.Context, format string, q Query) (*ExportFile, error) {
	resp, err := s.Browse(ctx, q)
	if err != nil {
		return nil, err
	}
	return Render(format, resp.Farms, resp.Stats, s.now())
}

func (s *marketplaceService) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	all, err := s.repo.ListVerified(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range all {
		if err := s.index.IndexListing(ctx, l); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func (s *marketplaceService) FarmEvaluated(ctx context.Context, farm *farms.Farm) {
	listing, ok := ListingFromFarm(farm)
	if !ok {
		return
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	if s.index != nil {
		if err := s.index.IndexListing(ctx, listing); err != nil {
			s.logger.Warn("Failed to index verified farm", zap.String("farm_id", farm.ID.String()), zap.Error(err))
		}
	}
}

func (s *marketplaceService) verified(ctx context.Context) ([]Listing, error) {
	if s.cache == nil {
		return s.repo.ListVerified(ctx)
	}
	if v, ok := s.cache.Get(verifiedKey); ok {
		return v.([]Listing), nil
	}

	// a farm verified while the query runs clears the cache; the stale result must not be stored
	gen := s.cache.Generation()
	all, err := s.repo.ListVerified(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetIfGeneration(verifiedKey, all, gen)
	return all, nil
}

// filter returns a new slice; the cached slice is never reordered
func (s *marketplaceService) filter(ctx context.Context, all []Listing, q Query) []Listing {
	term := strings.TrimSpace(q.Search)
	crop := strings.TrimSpace(q.Crop)

	var hits map[uuid.UUID]struct{}
	if term != "" && s.index != nil {
		ids, err := s.index.Search(ctx, term, searchLimit)
		if err != nil {
			s.logger.Warn("Search index unavailable, matching in memory", zap.Error(err))
		} else {
			hits = make(map[uuid.UUID]struct{}, len(ids))
			for _, id := range ids {
				hits[id] = struct{}{}
			}
		}
	}

	out := make([]Listing, 0, len(all))
	for _, l := range all {
		if crop != "" && crop != "all" && !contains(l.CropTypes, crop) {
			continue
		}
		if term != "" {
			if hits != nil {
				if _, ok := hits[l.ID]; !ok {
					continue
				}
			} else if !matches(l, term) {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

func matches(l Listing, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(l.Name), term) {
		return true
	}
	for _, c := range l.CropTypes {
		if strings.Contains(strings.ToLower(c), term) {
			return true
		}
	}
	for _, p := range l.FarmingPractices {
		if strings.Contains(strings.ToLower(p), term) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func sortListings(listings []Listing, mode SortMode) {
	var less func(a, b Listing) bool
	switch mode {
	case SortCreditsHigh:
		less = func(a, b Listing) bool { return a.CarbonCredits > b.CarbonCredits }
	case SortCreditsLow:
		less = func(a, b Listing) bool { return a.CarbonCredits < b.CarbonCredits }
	case SortConfidence:
		less = func(a, b Listing) bool { return a.ConfidenceScore > b.ConfidenceScore }
	default:
		less = func(a, b Listing) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	sort.SliceStable(listings, func(i, j int) bool { return less(listings[i], listings[j]) })
}

func computeStats(all []Listing) Stats {
	stats := Stats{TotalFarms: len(all)}
	if len(all) == 0 {
		return stats
	}
	var confidence float64
	for _, l := range all {
		stats.TotalCredits += l.CarbonCredits
		confidence += l.ConfidenceScore
	}
	stats.TotalCredits = verification.Round1(stats.TotalCredits)
	stats.AverageConfidence = confidence / float64(len(all))
	return stats
}

func distinctCrops(all []Listing) []string {
	seen := make(map[string]struct{})
	for _, l := range all {
		for _, c := range l.CropTypes {
			seen[c] = struct{}{}
		}
	}
	crops := make([]string, 0, len(seen))
	for c := range seen {
		crops = append(crops, c)
	}
	sort.Strings(crops)
	return crops
}
