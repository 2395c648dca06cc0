package pdf

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificate(t *testing.T) {
	gen := NewGenerator()

	reader, err := gen.Certificate(context.Background(), Certificate{
		FarmID:          "f-1",
		FarmName:        "Kilima Farm",
		OwnerName:       "Wanjiru",
		LandSize:        2,
		CropTypes:       []string{"Maize", "Beans"},
		Practices:       []string{"No-till farming", "Composting"},
		Latitude:        0.0236,
		Longitude:       37.9062,
		CarbonCredits:   1.2,
		ConfidenceScore: 0.91,
		VerifiedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Signature:       "abc.def.ghi",
	})
	require.NoError(t, err)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(data) > 100)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestCertificate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator().Certificate(ctx, Certificate{})
	assert.ErrorIs(t, err, context.Canceled)
}
