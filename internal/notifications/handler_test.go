package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
	"carboniq/farm-portal/farm-portal-backend/internal/notifications/websocket"
	"carboniq/farm-portal/farm-portal-backend/pkg/security"
)

type sessionParser struct {
	signer *security.Signer
}

func (p sessionParser) Authenticate(token string) (*security.SessionClaims, error) {
	return p.signer.ParseSession(token)
}

func newTestRouter(t *testing.T, svc Service) (*gin.Engine, *websocket.Manager, *security.Signer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	signer := security.NewSigner("test-secret", "carboniq")
	manager := websocket.NewManager(zaptest.NewLogger(t), nil)
	t.Cleanup(manager.Close)

	h := NewHandler(svc, manager, zaptest.NewLogger(t))
	parser := sessionParser{signer}

	r := gin.New()
	h.RegisterWebSocket(r, auth.RequireSocketAuth(parser))
	api := r.Group("/api/v1", auth.RequireAuth(parser))
	h.RegisterRoutes(api)
	return r, manager, signer
}

func TestConnect_RequiresToken(t *testing.T) {
	r, _, _ := newTestRouter(t, NewService(Options{}))
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnect_ReceivesVerificationPush(t *testing.T) {
	r, manager, signer := newTestRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	farm := verifiedFarm()
	token, _, err := signer.IssueSession(farm.UserID.String(), "farmer@example.com", time.Hour)
	require.NoError(t, err)

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return manager.GetConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	NewService(Options{Pusher: manager, Logger: zaptest.NewLogger(t)}).FarmEvaluated(t.Context(), farm)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeVerification, msg.Type)
	assert.Equal(t, "verified", msg.Data["status"])
	assert.InDelta(t, 4.5, msg.Data["carbon_credits"], 1e-9)
}

func TestList_BoundsPaging(t *testing.T) {
	repo := new(MockRepository)
	r, _, signer := newTestRouter(t, NewService(Options{Repo: repo}))
	userID := uuid.New()
	token, _, err := signer.IssueSession(userID.String(), "farmer@example.com", time.Hour)
	require.NoError(t, err)

	repo.On("ListForUser", mock.Anything, userID, maxLimit, 0).
		Return([]SentNotification{{Channel: ChannelSMS, Status: StatusSent}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=500&offset=-3", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, maxLimit, body.Limit)
	assert.Equal(t, 0, body.Offset)
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, ChannelSMS, body.Notifications[0].Channel)
	repo.AssertExpectations(t)
}
