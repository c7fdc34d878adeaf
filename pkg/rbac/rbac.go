// Package rbac checks actor roles and permissions against workflow requirements.
package rbac

import (
	"slices"
	"strings"

	"github.com/dukex/flowgate/pkg/models"
)

// AdminRole is the role name granting the step authorization bypass.
const AdminRole = "admin"

// HasRole reports whether the actor holds a role with exactly this name.
func HasRole(actor *models.Actor, roleName string) bool {
	if actor == nil {
		return false
	}

	return slices.ContainsFunc(actor.Roles, func(role *models.Role) bool {
		return role.Name == roleName
	})
}

// HasPermission reports whether any of the actor's roles carries the named permission.
func HasPermission(actor *models.Actor, permissionName string) bool {
	_, ok := EffectivePermissions(actor)[permissionName]

	return ok
}

// EffectivePermissions returns the set of permission names the actor holds through its roles.
func EffectivePermissions(actor *models.Actor) map[string]struct{} {
	permissions := make(map[string]struct{})
	if actor == nil {
		return permissions
	}

	for _, role := range actor.Roles {
		for _, permission := range role.Permissions {
			permissions[permission.Name] = struct{}{}
		}
	}

	return permissions
}

// Authorize fails with PermissionDenied listing every required permission the actor lacks.
func Authorize(actor *models.Actor, required ...string) error {
	held := EffectivePermissions(actor)

	var missing []string

	for _, name := range required {
		if _, ok := held[name]; !ok {
			missing = append(missing, "permission "+name)
		}
	}

	if len(missing) > 0 {
		return models.NewPermissionDenied("Authorize", missing...)
	}

	return nil
}

// RequireRole fails with PermissionDenied when the actor does not hold roleName.
func RequireRole(actor *models.Actor, roleName string) error {
	if !HasRole(actor, roleName) {
		return models.NewPermissionDenied("RequireRole", "role "+roleName)
	}

	return nil
}

// IsAdmin reports whether the actor holds a role named admin, ignoring case.
func IsAdmin(actor *models.Actor) bool {
	if actor == nil {
		return false
	}

	return slices.ContainsFunc(actor.Roles, func(role *models.Role) bool {
		return strings.EqualFold(role.Name, AdminRole)
	})
}

// AuthorizeStep checks the actor may decide on step. Admins bypass every check;
// otherwise the required role and the required permission are enforced independently.
func AuthorizeStep(actor *models.Actor, step *models.StepDefinition) error {
	if IsAdmin(actor) {
		return nil
	}

	var missing []string

	if step.RequiredRoleID != nil && (actor == nil || actor.RoleByID(*step.RequiredRoleID) == nil) {
		missing = append(missing, "required role "+*step.RequiredRoleID)
	}

	if step.RequiredPermissionID != nil && (actor == nil || actor.PermissionByID(*step.RequiredPermissionID) == nil) {
		missing = append(missing, "required permission "+*step.RequiredPermissionID)
	}

	if len(missing) > 0 {
		return models.NewPermissionDenied("AuthorizeStep", missing...)
	}

	return nil
}
