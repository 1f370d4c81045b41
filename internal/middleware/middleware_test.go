package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/mcpwizard/internal/config"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

// callerEngine returns an engine whose /whoami route echoes the resolved caller
func callerEngine(auth gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(auth)
	r.GET("/whoami", func(c *gin.Context) {
		caller, ok := GetCaller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, caller)
	})
	return r
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCaller models.Caller
	}{
		{
			name:       "Missing header",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Not a bearer token",
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Malformed token",
			header:     "Bearer abc.def",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Expired token",
			header:     "Bearer " + signedToken(t, jwt.MapClaims{"sub": "auth0|alice", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Missing subject",
			header:     "Bearer " + signedToken(t, jwt.MapClaims{"org_id": "org-1"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "User is their own organization",
			header:     "Bearer " + signedToken(t, jwt.MapClaims{"sub": "auth0|alice"}),
			wantStatus: http.StatusOK,
			wantCaller: models.Caller{UserId: "auth0|alice", OrganizationId: "auth0|alice", Plan: config.DefaultPlan},
		},
		{
			name:       "Organization and plan claims",
			header:     "Bearer " + signedToken(t, jwt.MapClaims{"sub": "auth0|bob", "org_id": "org-acme", "plan": "pro"}),
			wantStatus: http.StatusOK,
			wantCaller: models.Caller{UserId: "auth0|bob", OrganizationId: "org-acme", Plan: "pro"},
		},
	}

	r := callerEngine(Authentication())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t,
					`{"UserId":"`+tt.wantCaller.UserId+`","OrganizationId":"`+tt.wantCaller.OrganizationId+`","Plan":"`+tt.wantCaller.Plan+`"}`,
					w.Body.String())
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Run("Wildcard", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"*"}))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Allow list", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"https://app.example.com"}))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"*"}))
		r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	r := gin.New()
	r.Use(Authentication(), rl.Middleware())
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := "Bearer " + signedToken(t, jwt.MapClaims{"sub": "alice"})
	bob := "Bearer " + signedToken(t, jwt.MapClaims{"sub": "bob"})

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	assert.Equal(t, http.StatusOK, send(bob))
}
