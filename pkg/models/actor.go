package models

import "time"

// Actor is an authenticated user able to act on workflow requests.
type Actor struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"     validate:"required,email"`
	FullName  string    `json:"full_name,omitempty"`
	Active    bool      `json:"is_active"`
	Roles     []*Role   `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// Role aggregates permissions.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"        validate:"required"`
	Description string        `json:"description,omitempty"`
	Permissions []*Permission `json:"permissions"`
}

// Permission is a named capability, for example "finance.approve".
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"                  validate:"required"`
	Resource    string `json:"resource,omitempty"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
}

// RoleByID returns the actor's role with the given id, or nil.
func (a *Actor) RoleByID(id string) *Role {
	for _, role := range a.Roles {
		if role.ID == id {
			return role
		}
	}

	return nil
}

// PermissionByID returns the first permission with the given id held through any role, or nil.
func (a *Actor) PermissionByID(id string) *Permission {
	for _, role := range a.Roles {
		for _, permission := range role.Permissions {
			if permission.ID == id {
				return permission
			}
		}
	}

	return nil
}
