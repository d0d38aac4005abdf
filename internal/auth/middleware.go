// Package auth validates the bearer tokens issued by the password login step
// and issues the short-lived token that proves a facial login.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const subjectKey contextKey = "authSubjectID"

// MethodFace is the authentication method reference set on facial login tokens.
const MethodFace = "face"

// Claims are the registered claims plus the authentication methods used.
type Claims struct {
	jwt.RegisteredClaims
	Methods []string `json:"amr,omitempty"`
}

// SubjectFromContext retrieves the authenticated subject from context.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithSubject returns a context carrying an authenticated subject.
func WithSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectKey, subjectID)
}

// Authenticator validates and issues HMAC-signed JWTs.
type Authenticator struct {
	secret   []byte
	audience string
	now      func() time.Time
	logger   *zap.Logger
}

// NewAuthenticator returns an authenticator. An empty secret rejects every request.
func NewAuthenticator(secret, audience string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
		logger:   logger.Named("auth"),
	}
}

// Middleware validates bearer tokens and injects the subject identity.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims, err := a.Parse(tokenString)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err), zap.String("path", c.FullPath()))
			unauthorized(c, err.Error())
			return
		}

		c.Request = c.Request.WithContext(WithSubject(c.Request.Context(), claims.Subject))
		c.Set(string(subjectKey), claims.Subject)
		c.Next()
	}
}

// Parse validates a token and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("missing JWT secret")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if a.audience != "" && !containsAudience(claims.Audience, a.audience) {
		return nil, errors.New("invalid audience")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}

// Issue signs a token for subject valid for ttl.
func (a *Authenticator) Issue(subjectID string, ttl time.Duration, methods ...string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Methods: methods,
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
