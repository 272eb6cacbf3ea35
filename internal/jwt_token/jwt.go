package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
)

// Claims represents the JWT claims of a principal token. The chat gateway
// mints one per session; the subject is the transport principal.
type Claims struct {
	APIVersion string `json:"api_version,omitempty"`
	jwt.RegisteredClaims
}

// Principal returns the validated subject as a principal.
func (c *Claims) Principal() (id.Principal, error) {
	return id.ParsePrincipal(c.Subject)
}

// JWTService handles JWT creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// GeneratePrincipalToken mints an HS256 token whose subject is principal.
func (s *JWTService) GeneratePrincipalToken(principal id.Principal, expiresIn time.Duration) (string, error) {
	if _, err := id.ParsePrincipal(string(principal)); err != nil {
		return "", err
	}
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		APIVersion: id.DefaultVersion().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(principal),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if _, err := claims.Principal(); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid principal")
	}
	return claims, nil
}
