package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldops-dispatch/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	claims.Issuer = "fieldops"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newRouter(t *testing.T, obj, act string) *gin.Engine {
	t.Helper()
	enforcer, err := NewEnforcer(&config.Config{})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Error())
	r.GET("/probe", Auth(testSecret, "fieldops"), Authorize(enforcer, obj, act), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"role": p.Role, "technician_id": p.TechnicianID.String()})
	})
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthAcceptsTechnicianToken(t *testing.T) {
	r := newRouter(t, "feed", "read")
	token := signToken(t, Claims{Role: RoleTechnician, TechnicianID: "1234"})

	rec := do(r, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "1234", body["technician_id"])
}

func TestAuthRejectsMissingToken(t *testing.T) {
	rec := do(newRouter(t, "feed", "read"), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	token := signToken(t, Claims{
		Role:             RoleTechnician,
		TechnicianID:     "1234",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	rec := do(newRouter(t, "feed", "read"), token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsTechnicianWithoutID(t *testing.T) {
	token := signToken(t, Claims{Role: RoleTechnician})
	rec := do(newRouter(t, "feed", "read"), token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizeForbidsOtherRoles(t *testing.T) {
	token := signToken(t, Claims{Role: RoleCustomer, CustomerID: "99"})
	rec := do(newRouter(t, "settlements", "retry"), token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "forbidden", body["error"]["code"])
}
