package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestJWT(t *testing.T) *JWTAuthMiddleware {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return NewJWTAuthMiddleware(&JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		JWTExpiryHours:    1,
		SkipPaths:         []string{"/health", "/auth/*", "/webhook/*"},
	}, nil)
}

func TestJWTAuthMiddleware_Wrap(t *testing.T) {
	m := newTestJWT(t)
	token, err := m.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"missing token", "/api/incidents", "", http.StatusUnauthorized},
		{"malformed header", "/api/incidents", "Token " + token, http.StatusUnauthorized},
		{"garbage token", "/api/incidents", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid token", "/api/incidents", "Bearer " + token, http.StatusOK},
		{"exact skip path", "/health", "", http.StatusOK},
		{"prefix skip path", "/webhook/alertmanager", "", http.StatusOK},
		{"auth endpoints", "/auth/login", "", http.StatusOK},
		{"empty bearer", "/api/incidents", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user string
			handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user = OperatorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
			if tt.name == "valid token" && user != "admin" {
				t.Errorf("user in context = %q, want admin", user)
			}
		})
	}
}

func TestJWTAuthMiddleware_Disabled(t *testing.T) {
	m := NewJWTAuthMiddleware(&JWTAuthConfig{JWTSecret: "test-secret"}, nil)

	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestJWTAuthMiddleware_GenerateTokenClaims(t *testing.T) {
	m := newTestJWT(t)
	issued := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.GenerateToken("oncall")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Operator() != "oncall" {
		t.Errorf("Operator() = %q", claims.Operator())
	}
	if !claims.ExpiresAt.Time.Equal(issued.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", claims.ExpiresAt)
	}

	m.now = func() time.Time { return issued.Add(time.Hour + time.Minute) }
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected token to be expired")
	}
}

func TestJWTAuthMiddleware_ValidateToken(t *testing.T) {
	m := newTestJWT(t)

	sign := func(method jwt.SigningMethod, key interface{}, claims OperatorClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	valid := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	foreign := valid
	foreign.Issuer = "someone-else"
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""
	otherAudience := valid
	otherAudience.Audience = jwt.ClaimStrings{"dashboard"}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", sign(jwt.SigningMethodHS256, []byte("test-secret"), valid), false},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid), true},
		{"expired", sign(jwt.SigningMethodHS256, []byte("test-secret"), expired), true},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte("test-secret"), foreign), true},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("test-secret"), valid), true},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("test-secret"), noExpiry), true},
		{"no subject", sign(jwt.SigningMethodHS256, []byte("test-secret"), noSubject), true},
		{"wrong audience", sign(jwt.SigningMethodHS256, []byte("test-secret"), otherAudience), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.ValidateToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && claims.Operator() != "admin" {
				t.Errorf("Operator() = %q", claims.Operator())
			}
		})
	}
}

func TestJWTAuthMiddleware_ValidateCredentials(t *testing.T) {
	m := newTestJWT(t)

	tests := []struct {
		username, password string
		want               bool
	}{
		{"admin", "correct-horse", true},
		{"admin", "wrong", false},
		{"Admin", "correct-horse", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := m.ValidateCredentials(tt.username, tt.password); got != tt.want {
			t.Errorf("ValidateCredentials(%q, %q) = %v, want %v", tt.username, tt.password, got, tt.want)
		}
	}
}
