package verification

import "time"

// Status is the outcome of a verification run
type Status string

const (
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Coordinates is a WGS84 point captured from the map widget
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FarmSubmission is the input evaluated by the engine. A nil Coordinates means unset.
type FarmSubmission struct {
	LandSize         float64      `json:"land_size"`
	CropTypes        []string     `json:"crop_types"`
	FarmingPractices []string     `json:"farming_practices"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
}

// Result is the engine's decision for one submission
type Result struct {
	Status           Status    `json:"status"`
	CarbonCredits    *float64  `json:"carbon_credits"`
	ConfidenceScore  *float64  `json:"confidence_score"`
	RejectionReasons []string  `json:"rejection_reasons"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// IsVerified reports whether the farm was accepted
func (r *Result) IsVerified() bool {
	return r != nil && r.Status == StatusVerified
}

// Rejection reasons, in evaluation order.
const (
	ReasonLandSize       = "Land size too small (minimum 0.5 hectares required)"
	ReasonPractices      = "Insufficient sustainable farming practices (minimum 2 required)"
	ReasonLowCarbonCrop  = "Selected crops have low carbon sequestration potential"
	ReasonCoordinates    = "Invalid or missing GPS coordinates"
	ReasonImageryAnomaly = "Satellite imagery analysis shows inconsistent land use patterns"
)

// reasonCodes maps reasons to short metric labels
var reasonCodes = map[string]string{
	ReasonLandSize:       "land_size",
	ReasonPractices:      "practices",
	ReasonLowCarbonCrop:  "low_carbon_crop",
	ReasonCoordinates:    "coordinates",
	ReasonImageryAnomaly: "imagery",
}

// ReasonCode returns the short label for a rejection reason
func ReasonCode(reason string) string {
	if code, ok := reasonCodes[reason]; ok {
		return code
	}
	return "other"
}
