package token

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
)

var (
	ErrExpired        = errors.New("token expired")
	ErrMalformed      = errors.New("token malformed")
	ErrUnknown        = errors.New("token verification failed")
	ErrSecretRequired = errors.New("token signing secret is required")
)

// Config holds the signing material and lifetime for identity tokens.
type Config struct {
	Secret    string
	ExpiresIn string
}

// ConfigFromEnv reads JWT_SECRET and JWT_EXPIRES_IN.
func ConfigFromEnv() Config {
	exp := os.Getenv("JWT_EXPIRES_IN")
	if exp == "" {
		exp = "7d"
	}
	return Config{Secret: os.Getenv("JWT_SECRET"), ExpiresIn: exp}
}

// Claims is the token payload: exactly account id, email, role, iat and exp.
type Claims struct {
	AccountID string      `json:"account_id"`
	Email     string      `json:"email"`
	Role      entity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 identity tokens. It never touches the
// account store; re-validation against durable state is the gate's job.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretRequired
	}
	return &Service{secret: []byte(cfg.Secret), ttl: ParseDuration(cfg.ExpiresIn), now: time.Now}, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for the given identity and returns it with its expiry.
func (s *Service) Issue(accountID, email string, role entity.Role) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature and expiry and returns the payload.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !tkn.Valid || claims.AccountID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrMalformed
	default:
		return ErrUnknown
	}
}
