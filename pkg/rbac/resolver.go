// Package rbac resolves the caller's organization-scoped role and gates
// every endpoint through it. Resolutions are cached in-process; all
// role-changing mutations invalidate the affected keys before returning, so
// a request can never observe a stale grant.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/premisehq/premise/pkg/auth"
)

// Store is the resolver's view of the credential store
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
	GetOrganizationRole(ctx context.Context, userID, organizationID uuid.UUID) (auth.Role, error)
	HasBuildingGrant(ctx context.Context, userID, buildingID uuid.UUID) (bool, error)
}

// ResolverConfig holds cache sizing
type ResolverConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultResolverConfig returns the default cache sizing
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		CacheSize: 16384,
		CacheTTL:  5 * time.Minute,
	}
}

type roleKey struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

type grantKey struct {
	UserID     uuid.UUID
	BuildingID uuid.UUID
}

// userFlags is the cached per-user slice of the identity record that
// resolution depends on.
type userFlags struct {
	Disabled bool
	Master   bool
	Exists   bool
}

// Resolver resolves roles with an expiring in-process cache. Concurrent
// misses for the same key are coalesced into a single store query.
type Resolver struct {
	store  Store
	roles  *expirable.LRU[roleKey, auth.Role]
	users  *expirable.LRU[uuid.UUID, userFlags]
	grants *expirable.LRU[grantKey, bool]
	group  singleflight.Group
}

// NewResolver creates a role resolver
func NewResolver(store Store, config ResolverConfig) *Resolver {
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultResolverConfig().CacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultResolverConfig().CacheTTL
	}
	return &Resolver{
		store:  store,
		roles:  expirable.NewLRU[roleKey, auth.Role](config.CacheSize, nil, config.CacheTTL),
		users:  expirable.NewLRU[uuid.UUID, userFlags](config.CacheSize, nil, config.CacheTTL),
		grants: expirable.NewLRU[grantKey, bool](config.CacheSize, nil, config.CacheTTL),
	}
}

// ResolveOrganizationRole returns the user's effective role in the
// organization. A disabled or unknown user resolves to NoAccess regardless
// of any stored assignment.
func (r *Resolver) ResolveOrganizationRole(ctx context.Context, userID, organizationID uuid.UUID) (auth.Role, error) {
	flags, err := r.resolveUserFlags(ctx, userID)
	if err != nil {
		return auth.RoleNoAccess, err
	}
	if !flags.Exists || flags.Disabled {
		return auth.RoleNoAccess, nil
	}

	key := roleKey{UserID: userID, OrganizationID: organizationID}
	if role, ok := r.roles.Get(key); ok {
		return role, nil
	}

	result, err, _ := r.group.Do(fmt.Sprintf("role:%s:%s", userID, organizationID), func() (interface{}, error) {
		role, err := r.store.GetOrganizationRole(ctx, userID, organizationID)
		if err != nil {
			return auth.RoleNoAccess, err
		}
		r.roles.Add(key, role)
		return role, nil
	})
	if err != nil {
		return auth.RoleNoAccess, fmt.Errorf("failed to resolve organization role: %w", err)
	}
	return result.(auth.Role), nil
}

// ResolveBuildingAccess reports whether the user may act within the
// building. The user needs at least Tablet in the building's organization;
// beyond that, super-admins pass implicitly while everyone else needs an
// explicit building grant.
func (r *Resolver) ResolveBuildingAccess(ctx context.Context, userID, organizationID, buildingID uuid.UUID) (bool, error) {
	role, err := r.ResolveOrganizationRole(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	if !role.AtLeast(auth.RoleTablet) {
		return false, nil
	}
	if role == auth.RoleSuperAdmin {
		return true, nil
	}

	key := grantKey{UserID: userID, BuildingID: buildingID}
	if granted, ok := r.grants.Get(key); ok {
		return granted, nil
	}

	result, err, _ := r.group.Do(fmt.Sprintf("grant:%s:%s", userID, buildingID), func() (interface{}, error) {
		granted, err := r.store.HasBuildingGrant(ctx, userID, buildingID)
		if err != nil {
			return false, err
		}
		r.grants.Add(key, granted)
		return granted, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to resolve building access: %w", err)
	}
	return result.(bool), nil
}

// IsMaster reports whether the user holds the cross-organization master
// role. Disabled masters resolve to false.
func (r *Resolver) IsMaster(ctx context.Context, userID uuid.UUID) (bool, error) {
	flags, err := r.resolveUserFlags(ctx, userID)
	if err != nil {
		return false, err
	}
	return flags.Exists && flags.Master && !flags.Disabled, nil
}

// InvalidateUser drops every cached resolution involving the user. Called
// synchronously when the user's disabled flag or system role changes.
func (r *Resolver) InvalidateUser(userID uuid.UUID) {
	r.users.Remove(userID)
	for _, key := range r.roles.Keys() {
		if key.UserID == userID {
			r.roles.Remove(key)
		}
	}
	for _, key := range r.grants.Keys() {
		if key.UserID == userID {
			r.grants.Remove(key)
		}
	}
}

// InvalidateOrganizationRole drops the cached role for a (user, org) pair
func (r *Resolver) InvalidateOrganizationRole(userID, organizationID uuid.UUID) {
	r.roles.Remove(roleKey{UserID: userID, OrganizationID: organizationID})
}

// InvalidateBuildingGrant drops the cached grant for a (user, building) pair
func (r *Resolver) InvalidateBuildingGrant(userID, buildingID uuid.UUID) {
	r.grants.Remove(grantKey{UserID: userID, BuildingID: buildingID})
}

func (r *Resolver) resolveUserFlags(ctx context.Context, userID uuid.UUID) (userFlags, error) {
	if flags, ok := r.users.Get(userID); ok {
		return flags, nil
	}

	result, err, _ := r.group.Do(fmt.Sprintf("user:%s", userID), func() (interface{}, error) {
		user, err := r.store.GetUser(ctx, userID)
		if errors.Is(err, auth.ErrNotFound) {
			flags := userFlags{}
			r.users.Add(userID, flags)
			return flags, nil
		}
		if err != nil {
			return userFlags{}, err
		}
		flags := userFlags{
			Disabled: user.Disabled,
			Master:   user.IsMaster(),
			Exists:   true,
		}
		r.users.Add(userID, flags)
		return flags, nil
	})
	if err != nil {
		return userFlags{}, fmt.Errorf("failed to resolve user flags: %w", err)
	}
	return result.(userFlags), nil
}
