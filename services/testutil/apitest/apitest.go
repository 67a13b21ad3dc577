// Package apitest drives service handlers through the authenticated /v1 router.
package apitest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/httpapi"
	"fieldops-dispatch/pkg/middleware"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret = "test-secret"
	jwtIssuer = "fieldops"
)

// NewRouter builds the authenticated /v1 router with the default role
// policies and the error renderer, the way httpapi.Module wires it.
func NewRouter(t *testing.T) (*gin.Engine, *httpapi.Router) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = jwtSecret
	cfg.Auth.Issuer = jwtIssuer

	enforcer, err := middleware.NewEnforcer(cfg)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(middleware.Error())
	return engine, httpapi.NewRouter(cfg, engine, enforcer)
}

// Token signs an access token accepted by the router from NewRouter.
func Token(t *testing.T, claims middleware.Claims) string {
	t.Helper()
	claims.Issuer = jwtIssuer
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func TechnicianToken(t *testing.T, id snowflake.ID) string {
	return Token(t, middleware.Claims{Role: middleware.RoleTechnician, TechnicianID: id.String()})
}

func CustomerToken(t *testing.T, id snowflake.ID) string {
	return Token(t, middleware.Claims{Role: middleware.RoleCustomer, CustomerID: id.String()})
}

func AdminToken(t *testing.T) string {
	return Token(t, middleware.Claims{Role: middleware.RoleAdmin})
}

// Do serves one request; body, when non-nil, is sent as JSON.
func Do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// APIError is the body rendered by middleware.Error.
type APIError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

// DecodeError parses an error response.
func DecodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var out APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
