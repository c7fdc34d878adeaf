package rbac

import (
	"testing"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func financeActor() *models.Actor {
	return &models.Actor{
		ID:     "user-1",
		Email:  "finance@example.com",
		Active: true,
		Roles: []*models.Role{
			{
				ID:   "role-finance",
				Name: "finance",
				Permissions: []*models.Permission{
					{ID: "perm-approve", Name: "finance.approve"},
					{ID: "perm-read", Name: "request.read"},
				},
			},
			{
				ID:          "role-viewer",
				Name:        "viewer",
				Permissions: []*models.Permission{{ID: "perm-read", Name: "request.read"}},
			},
		},
	}
}

func TestHasRoleAndPermission(t *testing.T) {
	actor := financeActor()

	assert.True(t, HasRole(actor, "finance"))
	assert.False(t, HasRole(actor, "Finance"))
	assert.False(t, HasRole(nil, "finance"))

	assert.True(t, HasPermission(actor, "finance.approve"))
	assert.False(t, HasPermission(actor, "finance.delete"))

	assert.Equal(t, map[string]struct{}{"finance.approve": {}, "request.read": {}}, EffectivePermissions(actor))
	assert.Empty(t, EffectivePermissions(&models.Actor{ID: "no-roles"}))
}

func TestAuthorize_ListsEveryMissingPermission(t *testing.T) {
	actor := financeActor()

	require.NoError(t, Authorize(actor, "finance.approve", "request.read"))

	err := Authorize(actor, "finance.approve", "workflow.create", "user.manage")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "workflow.create")
	assert.Contains(t, err.Error(), "user.manage")
	assert.NotContains(t, err.Error(), "finance.approve")
}

func TestRequireRole(t *testing.T) {
	require.NoError(t, RequireRole(financeActor(), "finance"))

	err := RequireRole(financeActor(), "admin")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Equal(t, "missing role admin", models.Detail(err))
}

func TestAuthorizeStep(t *testing.T) {
	admin := &models.Actor{ID: "admin", Roles: []*models.Role{{ID: "role-admin", Name: "Admin"}}}

	tests := []struct {
		name    string
		actor   *models.Actor
		step    *models.StepDefinition
		missing []string
	}{
		{
			name:  "no requirements",
			actor: &models.Actor{ID: "anyone"},
			step:  &models.StepDefinition{},
		},
		{
			name:  "admin bypasses role and permission",
			actor: admin,
			step:  &models.StepDefinition{RequiredRoleID: ptr("role-cfo"), RequiredPermissionID: ptr("perm-sign")},
		},
		{
			name:  "role and permission satisfied",
			actor: financeActor(),
			step:  &models.StepDefinition{RequiredRoleID: ptr("role-finance"), RequiredPermissionID: ptr("perm-approve")},
		},
		{
			name:    "missing role",
			actor:   financeActor(),
			step:    &models.StepDefinition{RequiredRoleID: ptr("role-cfo")},
			missing: []string{"required role role-cfo"},
		},
		{
			name:    "role is not enough without permission",
			actor:   financeActor(),
			step:    &models.StepDefinition{RequiredRoleID: ptr("role-finance"), RequiredPermissionID: ptr("perm-sign")},
			missing: []string{"required permission perm-sign"},
		},
		{
			name:    "both missing",
			actor:   &models.Actor{ID: "nobody"},
			step:    &models.StepDefinition{RequiredRoleID: ptr("role-cfo"), RequiredPermissionID: ptr("perm-sign")},
			missing: []string{"required role role-cfo", "required permission perm-sign"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AuthorizeStep(tt.actor, tt.step)
			if len(tt.missing) == 0 {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, models.ErrPermissionDenied)

			for _, m := range tt.missing {
				assert.Contains(t, models.Detail(err), m)
			}
		})
	}
}
