package auth

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const issuer = "supportdesk"

// Claims carries the operator identity: the subject is the username.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration
	log    *slog.Logger
}

func NewAuthService(logger *slog.Logger, secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		log:    logger.With(sl.Module("auth-service")),
	}
}

// Issue signs an HS256 token for username with the given role.
func (s *Service) Issue(username, role string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("auth secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate validates token and returns the operator it was issued to.
func (s *Service) Authenticate(token string) (*entity.Operator, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: auth secret not configured", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = entity.RoleOperator
	}
	return &entity.Operator{Username: claims.Subject, Role: role}, nil
}
