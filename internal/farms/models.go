package farms

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"

	"carboniq/farm-portal/farm-portal-backend/internal/verification"
	"carboniq/farm-portal/farm-portal-backend/pkg/geospatial"
)

// Farm is a farm record submitted for carbon-credit verification
type Farm struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Name               string         `gorm:"not null" json:"name"`
	LandSize           float64        `gorm:"not null" json:"land_size"`
	Latitude           *float64       `json:"latitude"`
	Longitude          *float64       `json:"longitude"`
	Boundary           datatypes.JSON `gorm:"type:jsonb" json:"boundary,omitempty"` // GeoJSON feature
	BoundaryAreaHa     *float64       `json:"boundary_area_ha,omitempty"`
	CentroidLatitude   *float64       `json:"centroid_latitude,omitempty"`
	CentroidLongitude  *float64       `json:"centroid_longitude,omitempty"`
	CropTypes          pq.StringArray `gorm:"type:text[];not null" json:"crop_types"`
	FarmingPractices   pq.StringArray `gorm:"type:text[];not null" json:"farming_practices"`
	PlantingDate       *time.Time     `gorm:"type:date" json:"planting_date"`
	VerificationStatus string         `gorm:"not null;default:'pending';index" json:"verification_status"`
	CarbonCredits      *float64       `json:"carbon_credits"`
	ConfidenceScore    *float64       `json:"confidence_score"`
	RejectionReasons   pq.StringArray `gorm:"type:text[]" json:"rejection_reasons"`
	VerifiedAt         *time.Time     `json:"verified_at"`
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Submission converts the stored record into engine input
func (f *Farm) Submission() verification.FarmSubmission {
	sub := verification.FarmSubmission{
		LandSize:         f.LandSize,
		CropTypes:        []string(f.CropTypes),
		FarmingPractices: []string(f.FarmingPractices),
	}
	if f.Latitude != nil && f.Longitude != nil {
		sub.Coordinates = &verification.Coordinates{Latitude: *f.Latitude, Longitude: *f.Longitude}
	}
	return sub
}

type PhotoType string

const (
	PhotoSoil    PhotoType = "soil"
	PhotoCrops   PhotoType = "crops"
	PhotoTrees   PhotoType = "trees"
	PhotoGeneral PhotoType = "general"
)

func (t PhotoType) Valid() bool {
	switch t {
	case PhotoSoil, PhotoCrops, PhotoTrees, PhotoGeneral:
		return true
	}
	return false
}

type FarmPhoto struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FarmID      uuid.UUID `gorm:"type:uuid;not null;index" json:"farm_id"`
	PhotoType   PhotoType `gorm:"not null;default:'general'" json:"photo_type"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	FileSize    int64     `json:"file_size"`
	S3Key       string    `gorm:"not null" json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
	URL         string    `gorm:"-" json:"url,omitempty"`
}

// FarmStatusHistory tracks verification status changes
type FarmStatusHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FarmID    uuid.UUID `gorm:"type:uuid;not null;index" json:"farm_id"`
	Status    string    `gorm:"not null" json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// VerificationJob is the outbox row that guarantees a pending farm is eventually evaluated
type VerificationJob struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FarmID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"farm_id"`
	Status        JobStatus `gorm:"not null;default:'pending';index:idx_verification_jobs_due,priority:1" json:"status"`
	Attempts      int       `gorm:"not null;default:0" json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `gorm:"index:idx_verification_jobs_due,priority:2" json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateFarmRequest is the payload of the multi-step submission form
type CreateFarmRequest struct {
	Name             string              `json:"name"`
	LandSize         float64             `json:"land_size"`
	CropTypes        []string            `json:"crop_types"`
	Latitude         *float64            `json:"latitude"`
	Longitude        *float64            `json:"longitude"`
	Boundary         []geospatial.LatLng `json:"boundary"` // [lat, lng] vertices
	FarmingPractices []string            `json:"farming_practices"`
	PlantingDate     string              `json:"planting_date"` // YYYY-MM-DD
}

// StepRequest validates a single step of the submission form
type StepRequest struct {
	Step int `json:"step"`
	CreateFarmRequest
}

type ListFilter struct {
	Status string
}

// DashboardSummary aggregates an owner's farms
type DashboardSummary struct {
	TotalFarms    int64   `json:"total_farms"`
	VerifiedFarms int64   `json:"verified_farms"`
	PendingFarms  int64   `json:"pending_farms"`
	RejectedFarms int64   `json:"rejected_farms"`
	TotalCredits  float64 `json:"total_credits"`
}

// CertificateCheck answers a public certificate lookup
type CertificateCheck struct {
	Valid           bool       `json:"valid"`
	FarmID          uuid.UUID  `json:"farm_id"`
	FarmName        string     `json:"farm_name"`
	CarbonCredits   float64    `json:"carbon_credits"`
	ConfidenceScore float64    `json:"confidence_score"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

// VerificationOutcome is returned with a freshly created or re-verified farm
type VerificationOutcome struct {
	Status           string   `json:"status"`
	CarbonCredits    *float64 `json:"carbon_credits,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	RejectionReasons []string `json:"rejection_reasons,omitempty"`
}

func outcomeOf(f *Farm) *VerificationOutcome {
	return &VerificationOutcome{
		Status:           f.VerificationStatus,
		CarbonCredits:    f.CarbonCredits,
		ConfidenceScore:  f.ConfidenceScore,
		RejectionReasons: []string(f.RejectionReasons),
	}
}
