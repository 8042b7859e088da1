// Package acl decides which survey responses a user may see in a campaign.
package acl

import (
	"context"
	"fmt"

	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
)

// Directory answers questions about users and their campaign roles.
type Directory interface {
	IsAdmin(ctx context.Context, username string) (bool, error)
	Roles(ctx context.Context, username, campaignID string) ([]model.Role, error)
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir}
}

// Resolve returns the visibility predicate for requester in campaignID:
// nothing for admins and supervisors, otherwise own responses plus shared
// ones for authors and analysts. Analysts that are not authors only see
// shared responses of shared campaigns.
func (r *Resolver) Resolve(ctx context.Context, requester, campaignID string) (query.Fragment, error) {
	admin, err := r.dir.IsAdmin(ctx, requester)
	if err != nil {
		return query.Fragment{}, fmt.Errorf("acl: admin flag of %s: %w", requester, err)
	}
	if admin {
		return query.Fragment{}, nil
	}

	roles, err := r.dir.Roles(ctx, requester, campaignID)
	if err != nil {
		return query.Fragment{}, fmt.Errorf("acl: roles of %s in %s: %w", requester, campaignID, err)
	}
	return predicate(requester, roles), nil
}

func predicate(requester string, roles []model.Role) query.Fragment {
	if model.HasRole(roles, model.RoleSupervisor) {
		return query.Fragment{}
	}

	own := query.Expr("u.username = ?", requester)
	author := model.HasRole(roles, model.RoleAuthor)
	analyst := model.HasRole(roles, model.RoleAnalyst)
	if !author && !analyst {
		return own
	}

	shared := query.Expr("srps.privacy_state = ?", string(model.PrivacyShared))
	if !author {
		shared = query.Join(" AND ", shared, query.Expr("cps.privacy_state = ?", string(model.PrivacyShared)))
	}
	return query.Join(" OR ", own, shared.Paren())
}

// Supervises reports whether requester may act on every response of the
// campaign.
func (r *Resolver) Supervises(ctx context.Context, requester, campaignID string) (bool, error) {
	admin, err := r.dir.IsAdmin(ctx, requester)
	if err != nil || admin {
		return admin, err
	}
	roles, err := r.dir.Roles(ctx, requester, campaignID)
	if err != nil {
		return false, err
	}
	return model.HasRole(roles, model.RoleSupervisor), nil
}

type memoKey struct {
	user, campaign string
}

type memo struct {
	next  query.VisibilityResolver
	cache map[memoKey]query.Fragment
}

// Memoize remembers the predicates resolved through it. It must not outlive
// the request it was made for.
func Memoize(r query.VisibilityResolver) query.VisibilityResolver {
	return &memo{next: r, cache: map[memoKey]query.Fragment{}}
}

func (m *memo) Resolve(ctx context.Context, requester, campaignID string) (query.Fragment, error) {
	k := memoKey{requester, campaignID}
	if f, ok := m.cache[k]; ok {
		return f, nil
	}
	f, err := m.next.Resolve(ctx, requester, campaignID)
	if err != nil {
		return f, err
	}
	m.cache[k] = f
	return f, nil
}
