package farms

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"carboniq/farm-portal/farm-portal-backend/pkg/geospatial"
)

const (
	StepBasics    = 1
	StepLocation  = 2
	StepPractices = 3

	plantingDateLayout = "2006-01-02"
)

// ValidateStep checks the fields owned by one step of the submission form
func ValidateStep(step int, req CreateFarmRequest) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	switch step {
	case StepBasics:
		if strings.TrimSpace(req.Name) == "" {
			add("name", "Farm name is required")
		}
		if req.LandSize <= 0 {
			add("land_size", "Land size must be greater than 0")
		}
		if len(normalizeSet(req.CropTypes)) == 0 {
			add("crop_types", "Select at least one crop type")
		}
	case StepLocation:
		if req.Latitude == nil || req.Longitude == nil {
			add("coordinates", "Please select your farm location on the map")
		} else {
			if *req.Latitude < -90 || *req.Latitude > 90 {
				add("latitude", "Latitude must be between -90 and 90")
			}
			if *req.Longitude < -180 || *req.Longitude > 180 {
				add("longitude", "Longitude must be between -180 and 180")
			}
		}
		if len(req.Boundary) > 0 {
			if _, err := geospatial.NewBoundary(req.Boundary); err != nil {
				add("boundary", boundaryMessage(err))
			}
		}
	case StepPractices:
		if len(normalizeSet(req.FarmingPractices)) == 0 {
			add("farming_practices", "Select at least one farming practice")
		}
		if strings.TrimSpace(req.PlantingDate) == "" {
			add("planting_date", "Planting date is required")
		} else if _, err := time.Parse(plantingDateLayout, req.PlantingDate); err != nil {
			add("planting_date", "Planting date must be in YYYY-MM-DD format")
		}
	default:
		add("step", fmt.Sprintf("unknown step %d", step))
	}
	return errs
}

// ValidateCreate runs every form step
func ValidateCreate(req CreateFarmRequest) error {
	var errs ValidationErrors
	for _, step := range []int{StepBasics, StepLocation, StepPractices} {
		errs = append(errs, ValidateStep(step, req)...)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func boundaryMessage(err error) string {
	if errors.Is(err, geospatial.ErrTooFewVertices) {
		return fmt.Sprintf("Boundary needs at least %d points", geospatial.MinBoundaryVertices)
	}
	return err.Error()
}

// normalizeSet trims labels and drops blanks and duplicates, keeping first-seen order
func normalizeSet(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
