package farms

import (
	"errors"
	"strings"
)

var (
	ErrFarmNotFound       = errors.New("farm not found")
	ErrForbidden          = errors.New("farm belongs to another user")
	ErrInvalidCertificate = errors.New("certificate signature is invalid")
	ErrInvalidTransition  = errors.New("invalid verification status transition")
	ErrNotVerified        = errors.New("farm is not verified")
	ErrStorageDisabled    = errors.New("photo storage is not configured")
)

// ValidationError describes a single invalid form field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every invalid field of a request
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields maps field name to message, the shape the submission form renders
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, v := range e {
		if _, ok := out[v.Field]; !ok {
			out[v.Field] = v.Message
		}
	}
	return out
}
