package marketplace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMarketRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	repo := new(MockRepository)
	repo.On("ListVerified", mock.Anything).Return(sampleListings(), nil)
	r := gin.New()
	NewHandler(NewService(repo, nil, nil, zaptest.NewLogger(t)), zaptest.NewLogger(t)).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestHandler_Browse(t *testing.T) {
	r := newMarketRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/farms?crop=Maize&sort=credits-high", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"Riverside", "Kilima Farm"}, names(resp.Farms))
	assert.Equal(t, 3, resp.Stats.TotalFarms)
}

func TestHandler_Export(t *testing.T) {
	r := newMarketRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/export?format=docx", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
