package admin

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ScopeShutdown allows stopping the listener through the admin API.
const ScopeShutdown = "mocktide:shutdown"

// Claims carried by admin tokens.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

type TokenService struct {
	jwtSecret string
}

func NewTokenService(jwtSecret string) *TokenService {
	return &TokenService{jwtSecret: jwtSecret}
}

// IssueToken signs an HS256 token for subject with the given scopes.
func (a *TokenService) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

func (a *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		// "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("claims", claims)
		c.Set("subject", claims.Subject)
		c.Set("scopes", claims.Scopes)
		c.Next()
	}
}

// RequireScope checks the scopes stored by AuthMiddleware.
func RequireScope(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopesInterface, exists := c.Get("scopes")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "scopes not found in token"})
			return
		}
		scopes, ok := scopesInterface.([]string)
		if !ok || !(slices.Contains(scopes, required) || slices.Contains(scopes, "*")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient scopes",
				"required": required,
			})
			return
		}
		c.Next()
	}
}
