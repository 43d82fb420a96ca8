package service

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

// TokenConfig describes how bearer tokens are verified.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

// TokenService verifies access tokens issued by the identity provider.
type TokenService struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewTokenService constructs a TokenService. Issuer and audience are only enforced when set.
func NewTokenService(cfg TokenConfig) *TokenService {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if len(cfg.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(cfg.Audience[0]))
	}
	return &TokenService{config: cfg, parser: jwt.NewParser(opts...)}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *TokenService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := s.parser.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has no subject")
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor, models.RoleStudent, models.RoleService:
	default:
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token carries an unknown role")
	}
	return claims, nil
}
