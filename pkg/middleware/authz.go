package middleware

import (
	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{RoleCustomer, "jobs", "create"},
	{RoleCustomer, "jobs", "read"},
	{RoleCustomer, "jobs", "cancel"},
	{RoleTechnician, "jobs", "read"},
	{RoleTechnician, "jobs", "accept"},
	{RoleTechnician, "jobs", "advance"},
	{RoleTechnician, "jobs", "images"},
	{RoleTechnician, "feed", "read"},
	{RoleTechnician, "location", "write"},
	{RoleTechnician, "wallet", "read"},
	{RoleAdmin, "jobs", "read"},
	{RoleAdmin, "settlements", "retry"},
	{RoleAdmin, "wallets", "admin"},
	{RoleOwner, "jobs", "read"},
	{RoleOwner, "settlements", "retry"},
	{RoleOwner, "wallets", "admin"},
	{RoleSystem, "jobs", "create"},
	{RoleSystem, "payments", "write"},
}

// NewEnforcer loads ACCESS_CONTROL.MODEL/POLICY files when configured and the
// built-in role table otherwise.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	return e, nil
}

// Authorize allows the request when the principal's role may perform act on obj.
func Authorize(e *casbin.Enforcer, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			abort(c, errutil.Unauthorized("unauthenticated", nil))
			return
		}

		allowed, err := e.Enforce(p.Role, obj, act)
		if err != nil {
			zap.L().Error("authorization check failed", zap.String("role", p.Role), zap.Error(err))
			abort(c, errutil.Internal("authorization check failed", err))
			return
		}
		if !allowed {
			abort(c, errutil.Forbidden("operation not permitted for role", nil))
			return
		}

		c.Next()
	}
}
