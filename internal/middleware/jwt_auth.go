package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/akmatori/incidentflow/internal/api"
)

const (
	tokenIssuer   = "incidentflow"
	tokenAudience = "incidentflow-api"
	clockLeeway   = 30 * time.Second
)

// ErrMissingToken is returned when a request carries no bearer token
var ErrMissingToken = errors.New("missing bearer token")

// OperatorClaims are the claims of an operator session token; the operator name is the subject
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// Operator returns the authenticated operator name
func (c *OperatorClaims) Operator() string {
	return c.Subject
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// Enabled determines if JWT authentication is enforced
	Enabled bool

	AdminUsername     string
	AdminPasswordHash string // bcrypt

	JWTSecret      string
	JWTExpiryHours int

	// SkipPaths are served without a token. A trailing "*" matches by prefix.
	SkipPaths []string
}

// JWTAuthMiddleware protects the operator API with HS256 session tokens
type JWTAuthMiddleware struct {
	enabled      bool
	username     []byte
	passwordHash []byte
	secret       []byte
	expiry       time.Duration
	skipExact    map[string]struct{}
	skipPrefixes []string
	logger       *zap.Logger
	now          func() time.Time
}

type operatorKey struct{}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig, logger *zap.Logger) *JWTAuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &JWTAuthMiddleware{
		enabled:      config.Enabled,
		username:     []byte(config.AdminUsername),
		passwordHash: []byte(config.AdminPasswordHash),
		secret:       []byte(config.JWTSecret),
		expiry:       time.Duration(config.JWTExpiryHours) * time.Hour,
		skipExact:    make(map[string]struct{}),
		logger:       logger,
		now:          time.Now,
	}
	for _, p := range config.SkipPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			m.skipPrefixes = append(m.skipPrefixes, prefix)
			continue
		}
		m.skipExact[p] = struct{}{}
	}
	return m
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// GenerateToken signs a session token for operator
func (m *JWTAuthMiddleware) GenerateToken(operator string) (string, error) {
	now := m.now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken parses and verifies a session token
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}

// ValidateCredentials checks an operator login against the configured admin account
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), m.username) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) == nil
}

// Wrap wraps an http.Handler with JWT authentication
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || m.skips(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn("rejected request",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="incidentflow"`)
			msg := "Invalid or expired token"
			if errors.Is(err, ErrMissingToken) {
				msg = "Missing authentication token"
			}
			api.RespondError(w, http.StatusUnauthorized, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims.Operator())))
	})
}

func (m *JWTAuthMiddleware) authenticate(r *http.Request) (*OperatorClaims, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	return m.ValidateToken(strings.TrimSpace(token))
}

func (m *JWTAuthMiddleware) skips(path string) bool {
	if _, ok := m.skipExact[path]; ok {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// WithOperator returns ctx carrying the authenticated operator name
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator set by the auth middleware, or "" for unauthenticated requests
func OperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(operatorKey{}).(string)
	return operator
}
