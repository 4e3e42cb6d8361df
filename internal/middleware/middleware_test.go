package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "middleware-test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims middleware.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claims(userID string, perms ...string) middleware.JWTClaims {
	return middleware.JWTClaims{
		UserID:      userID,
		Name:        "Test",
		Roles:       []string{"engineer"},
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(zap.NewNop()))
	api := r.Group("/api", middleware.JWTAuth(secret))
	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(middleware.CtxUserID)})
	})
	api.POST("/relay", middleware.RequirePermission("ledger:relay"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := setupRouter()
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u-1"))

	t.Run("bearer header", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me", valid)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "u-1")
	})

	t.Run("query token", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me?token="+valid, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "40100")
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me", sign(t, jwt.SigningMethodHS256, []byte("other"), claims("u-1")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "40102")
	})

	t.Run("other algorithm", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me", sign(t, jwt.SigningMethodHS512, []byte(secret), claims("u-1")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		c := claims("u-1")
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		w := do(r, http.MethodGet, "/api/me", sign(t, jwt.SigningMethodHS256, []byte(secret), c))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("no user id", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/me", sign(t, jwt.SigningMethodHS256, []byte(secret), claims("")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "40103")
	})
}

func TestRequirePermission(t *testing.T) {
	r := setupRouter()

	w := do(r, http.MethodPost, "/api/relay", sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u-1", "ledger:relay")))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodPost, "/api/relay", sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u-1", "*")))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodPost, "/api/relay", sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u-1", "contract:manage")))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "ledger:relay")

	w = do(r, http.MethodPost, "/api/relay", sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u-1")))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestID(t *testing.T) {
	r := setupRouter()

	w := do(r, http.MethodGet, "/api/me", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}
