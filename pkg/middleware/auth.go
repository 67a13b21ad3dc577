package middleware

import (
	"errors"
	"fmt"
	"strings"

	"fieldops-dispatch/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the access token.
const (
	RoleCustomer   = "customer"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
	RoleOwner      = "owner"
	RoleSystem     = "system"
)

const principalKey = "dispatch.principal"

// Claims is the access token issued by the identity collaborator.
type Claims struct {
	Role         string `json:"role"`
	TechnicianID string `json:"technician_id,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject      string
	Role         string
	TechnicianID snowflake.ID
	CustomerID   snowflake.ID
}

func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}

func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

// Auth validates an HS256 bearer token and stores the Principal on the context.
func Auth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			abort(c, errutil.Unauthorized("missing bearer token", nil))
			return
		}

		claims := &Claims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}

		token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, opts...)
		if err != nil || !token.Valid {
			abort(c, errutil.Unauthorized("invalid or expired token", err))
			return
		}

		principal, err := principalFromClaims(claims)
		if err != nil {
			abort(c, errutil.Unauthorized("invalid token claims", err))
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

func principalFromClaims(claims *Claims) (*Principal, error) {
	p := &Principal{Subject: claims.Subject, Role: claims.Role}
	if p.Role == "" {
		return nil, errors.New("role claim is required")
	}

	if claims.TechnicianID != "" {
		id, err := snowflake.ParseString(claims.TechnicianID)
		if err != nil {
			return nil, fmt.Errorf("technician_id: %w", err)
		}
		p.TechnicianID = id
	}
	if claims.CustomerID != "" {
		id, err := snowflake.ParseString(claims.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("customer_id: %w", err)
		}
		p.CustomerID = id
	}

	switch p.Role {
	case RoleTechnician:
		if p.TechnicianID == 0 {
			return nil, errors.New("technician token without technician_id")
		}
	case RoleCustomer:
		if p.CustomerID == 0 {
			return nil, errors.New("customer token without customer_id")
		}
	}
	return p, nil
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
