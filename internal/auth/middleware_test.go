package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carboniq/farm-portal/farm-portal-backend/pkg/security"
)

type signerParser struct {
	signer *security.Signer
}

func (p signerParser) Authenticate(token string) (*security.SessionClaims, error) {
	return p.signer.ParseSession(token)
}

func newProtectedRouter(signer *security.Signer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	whoami := func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.String()})
	}
	r.GET("/protected", RequireAuth(signerParser{signer}), whoami)
	r.GET("/ws", RequireSocketAuth(signerParser{signer}), whoami)
	return r
}

func TestRequireAuth_MissingToken(t *testing.T) {
	r := newProtectedRouter(security.NewSigner("s", "carboniq"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, LoginPath, body["redirect"])
}

func TestRequireAuth_ValidBearer(t *testing.T) {
	signer := security.NewSigner("s", "carboniq")
	r := newProtectedRouter(signer)
	userID := uuid.New()
	token, _, err := signer.IssueSession(userID.String(), "a@b.c", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
}

func TestRequireAuth_QueryTokenOnlyForSockets(t *testing.T) {
	signer := security.NewSigner("s", "carboniq")
	r := newProtectedRouter(signer)
	token, _, err := signer.IssueSession(uuid.NewString(), "a@b.c", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=not-a-token", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
