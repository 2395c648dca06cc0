package marketplace

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carboniq/farm-portal/farm-portal-backend/internal/farms"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

type SortMode string

const (
	SortNewest      SortMode = "newest"
	SortCreditsHigh SortMode = "credits-high"
	SortCreditsLow  SortMode = "credits-low"
	SortConfidence  SortMode = "confidence"
)

// ParseSortMode falls back to newest for empty or unknown values
func ParseSortMode(s string) SortMode {
	switch SortMode(s) {
	case SortCreditsHigh, SortCreditsLow, SortConfidence:
		return SortMode(s)
	}
	return SortNewest
}

// Listing is a verified farm as shown to credit buyers
type Listing struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	LandSize         float64        `db:"land_size" json:"land_size"`
	Latitude         *float64       `db:"latitude" json:"latitude"`
	Longitude        *float64       `db:"longitude" json:"longitude"`
	CropTypes        pq.StringArray `db:"crop_types" json:"crop_types"`
	FarmingPractices pq.StringArray `db:"farming_practices" json:"farming_practices"`
	CarbonCredits    float64        `db:"carbon_credits" json:"carbon_credits"`
	ConfidenceScore  float64        `db:"confidence_score" json:"confidence_score"`
	VerifiedAt       *time.Time     `db:"verified_at" json:"verified_at"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// ListingFromFarm converts a verified farm; ok is false for anything else
func ListingFromFarm(f *farms.Farm) (Listing, bool) {
	if f.VerificationStatus != workflows.StatusVerified || f.CarbonCredits == nil {
		return Listing{}, false
	}
	l := Listing{
		ID:               f.ID,
		Name:             f.Name,
		LandSize:         f.LandSize,
		Latitude:         f.Latitude,
		Longitude:        f.Longitude,
		CropTypes:        f.CropTypes,
		FarmingPractices: f.FarmingPractices,
		CarbonCredits:    *f.CarbonCredits,
		VerifiedAt:       f.VerifiedAt,
		CreatedAt:        f.CreatedAt,
	}
	if f.ConfidenceScore != nil {
		l.ConfidenceScore = *f.ConfidenceScore
	}
	return l, true
}

type Query struct {
	Search string
	Crop   string
	Sort   SortMode
}

// Stats summarize the whole marketplace, independent of the active filter
type Stats struct {
	TotalFarms        int     `json:"total_farms"`
	TotalCredits      float64 `json:"total_credits"`
	AverageConfidence float64 `json:"average_confidence"`
}

type Response struct {
	Farms []Listing `json:"farms"`
	Total int       `json:"total"`
	Stats Stats     `json:"stats"`
	Crops []string  `json:"crops"`
}

// ExportFile is a rendered export ready to be served
type ExportFile struct {
	FileName    string
	ContentType string
	Data        []byte
}
