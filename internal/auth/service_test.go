package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"carboniq/farm-portal/farm-portal-backend/pkg/security"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateUser(ctx context.Context, user *User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func newTestService(t *testing.T, repo Repository) *authService {
	svc := NewService(repo, security.NewSigner("test-secret", "carboniq"), time.Hour, zaptest.NewLogger(t)).(*authService)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegister(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(t, repo)
	ctx := context.Background()

	repo.On("GetUserByEmail", ctx, "farmer@example.com").Return(nil, ErrUserNotFound)
	repo.On("CreateUser", ctx, mock.AnythingOfType("*auth.User")).Return(nil)

	resp, err := svc.Register(ctx, RegisterRequest{Email: " Farmer@Example.com ", Password: "secret1", FullName: "Amina"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "farmer@example.com", resp.User.Email)
	assert.NotEqual(t, "secret1", resp.User.PasswordHash)

	claims, err := svc.Authenticate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID.String(), claims.Subject)
	repo.AssertExpectations(t)
}

func TestRegister_EmailTaken(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(t, repo)
	ctx := context.Background()

	repo.On("GetUserByEmail", ctx, "farmer@example.com").Return(&User{ID: uuid.New()}, nil)

	_, err := svc.Register(ctx, RegisterRequest{Email: "farmer@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestLogin(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(t, repo)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &User{ID: uuid.New(), Email: "farmer@example.com", PasswordHash: string(hash)}
	repo.On("GetUserByEmail", ctx, "farmer@example.com").Return(user, nil)
	repo.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, ErrUserNotFound)

	resp, err := svc.Login(ctx, LoginRequest{Email: "farmer@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)

	_, err = svc.Login(ctx, LoginRequest{Email: "farmer@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
