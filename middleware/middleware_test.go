package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/config"
	"github.com/Raas21/delay-prediction-api/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/x", func(c *gin.Context) {
		if _, ok := c.Get(ClaimsKey); ok {
			c.String(http.StatusOK, "claims")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestRequireRoleDisabledWithoutSecret(t *testing.T) {
	auth := services.NewAuthService(config.JWTConfig{ExpiryHours: 1})
	r := newEngine(RequireRole(auth, services.RoleOperator))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("expected pass-through, got %d %q", w.Code, w.Body.String())
	}
}

func TestRequireRoleStoresClaims(t *testing.T) {
	auth := services.NewAuthService(config.JWTConfig{Secret: "s3cret", ExpiryHours: 1})
	r := newEngine(RequireRole(auth, services.RoleOperator))
	token, err := auth.GenerateToken("ops", services.RoleOperator)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != "claims" {
				t.Errorf("expected claims in context, got %q", w.Body.String())
			}
		})
	}
}

func TestSetupCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins string
		origin  string
		want    string
	}{
		{"wildcard", "*", "http://dash.example", "*"},
		{"listed", "http://a.example, http://dash.example", "http://dash.example", "http://dash.example"},
		{"unlisted", "http://a.example", "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(SetupCORS(config.CORSConfig{AllowedOrigins: tt.origins}))
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
