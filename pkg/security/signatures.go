package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AudienceSession     = "carboniq-session"
	AudienceCertificate = "carboniq-certificate"
)

var ErrInvalidToken = errors.New("invalid token")

// SessionClaims identify an authenticated user
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// CertificateClaims bind a verification outcome to a farm
type CertificateClaims struct {
	FarmID          string  `json:"farm_id"`
	CarbonCredits   float64 `json:"carbon_credits"`
	ConfidenceScore float64 `json:"confidence_score"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// IssueSession creates a session token for a user
func (s *Signer) IssueSession(userID, email string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return token, expiresAt, nil
}

// ParseSession validates a session token
func (s *Signer) ParseSession(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := s.parse(token, claims, AudienceSession); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignCertificate signs the verification outcome printed on a certificate
func (s *Signer) SignCertificate(farmID string, credits, confidence float64, verifiedAt time.Time) (string, error) {
	claims := CertificateClaims{
		FarmID:          farmID,
		CarbonCredits:   credits,
		ConfidenceScore: confidence,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  farmID,
			Issuer:   s.issuer,
			Audience: jwt.ClaimStrings{AudienceCertificate},
			IssuedAt: jwt.NewNumericDate(verifiedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign certificate: %w", err)
	}
	return token, nil
}

// VerifyCertificate checks a certificate signature and returns its claims
func (s *Signer) VerifyCertificate(token string) (*CertificateClaims, error) {
	claims := &CertificateClaims{}
	if err := s.parse(token, claims, AudienceCertificate); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Signer) parse(token string, claims jwt.Claims, audience string) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
