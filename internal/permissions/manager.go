// Package permissions manages the operator grants attached to a position's
// current accounting epoch.
package permissions

import (
	"context"
	"errors"
	"sort"
	"strings"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/storage"
)

// Manager creates, copies and edits PositionPermission entities.
type Manager struct {
	perms *storage.Repository[domain.PositionPermission]
}

// NewManager creates a permission manager over store.
func NewManager(store storage.EntityStore) *Manager {
	return &Manager{perms: storage.NewRepository[domain.PositionPermission](store, storage.KindPositionPermission)}
}

// Load returns the permissions with the given ids, in order. Missing ids are skipped.
func (m *Manager) Load(ctx context.Context, permissionIDs []string) ([]*domain.PositionPermission, error) {
	out := make([]*domain.PositionPermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		p, found, err := m.perms.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateFromGrants creates one permission per operator with a non-empty grant
// in epochID. A repeated operator's later grant replaces the earlier one, so a
// trailing empty grant revokes it. Returns the new permission ids in order of
// first appearance.
func (m *Manager) CreateFromGrants(ctx context.Context, positionID, epochID string, grants []domain.PermissionGrant) ([]string, error) {
	order := make([]string, 0, len(grants))
	final := make(map[string][]domain.Permission, len(grants))
	for _, g := range grants {
		operator := strings.ToLower(g.Operator)
		if _, ok := final[operator]; !ok {
			order = append(order, operator)
		}
		final[operator] = Normalize(g.Permissions)
	}

	created := make([]string, 0, len(order))
	for _, operator := range order {
		id := ids.Permission(epochID, operator)
		perms := final[operator]
		if len(perms) == 0 {
			if err := m.perms.Remove(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		p := &domain.PositionPermission{
			ID:          id,
			Position:    positionID,
			Epoch:       epochID,
			Operator:    operator,
			Permissions: perms,
		}
		if err := m.perms.Save(ctx, id, p); err != nil {
			return nil, err
		}
		created = append(created, id)
	}
	return created, nil
}

// Duplicate copies the permissions in currentIDs into a new epoch.
func (m *Manager) Duplicate(ctx context.Context, positionID, epochID string, currentIDs []string) ([]string, error) {
	current, err := m.Load(ctx, currentIDs)
	if err != nil {
		return nil, err
	}
	grants := make([]domain.PermissionGrant, 0, len(current))
	for _, p := range current {
		grants = append(grants, domain.PermissionGrant{Operator: p.Operator, Permissions: p.Permissions})
	}
	return m.CreateFromGrants(ctx, positionID, epochID, grants)
}

// Modify applies diff to the permissions of epochID. An empty capability list
// revokes the operator; otherwise the operator's grant is replaced or created.
// An entry equal to the current grant is ignored. Returns the full resulting
// id set and the subset of entries that changed.
func (m *Manager) Modify(ctx context.Context, positionID, epochID string, currentIDs []string, diff []domain.PermissionGrant) ([]string, []domain.PermissionGrant, error) {
	current, err := m.Load(ctx, currentIDs)
	if err != nil {
		return nil, nil, err
	}

	byOperator := make(map[string]*domain.PositionPermission, len(current))
	order := make([]string, 0, len(current))
	for _, p := range current {
		byOperator[p.Operator] = p
		order = append(order, p.Operator)
	}

	var touched []domain.PermissionGrant
	for _, g := range diff {
		operator := strings.ToLower(g.Operator)
		perms := Normalize(g.Permissions)
		existing, ok := byOperator[operator]

		switch {
		case ok && len(perms) == 0:
			if err := m.perms.Remove(ctx, existing.ID); err != nil {
				return nil, nil, err
			}
			delete(byOperator, operator)
		case ok && equal(existing.Permissions, perms):
			continue
		case ok:
			existing.Permissions = perms
			if err := m.perms.Save(ctx, existing.ID, existing); err != nil {
				return nil, nil, err
			}
		case len(perms) > 0:
			p := &domain.PositionPermission{
				ID:          ids.Permission(epochID, operator),
				Position:    positionID,
				Epoch:       epochID,
				Operator:    operator,
				Permissions: perms,
			}
			if err := m.perms.Save(ctx, p.ID, p); err != nil {
				return nil, nil, err
			}
			byOperator[operator] = p
			order = append(order, operator)
		default:
			continue
		}
		touched = append(touched, domain.PermissionGrant{Operator: operator, Permissions: perms})
	}

	result := make([]string, 0, len(byOperator))
	for _, operator := range order {
		if p, ok := byOperator[operator]; ok {
			result = append(result, p.ID)
			delete(byOperator, operator)
		}
	}
	return result, touched, nil
}

// Replace makes the epoch's permissions exactly grants.
// Returns the resulting ids and the entries that changed.
func (m *Manager) Replace(ctx context.Context, positionID, epochID string, currentIDs []string, grants []domain.PermissionGrant) ([]string, []domain.PermissionGrant, error) {
	current, err := m.Load(ctx, currentIDs)
	if err != nil {
		return nil, nil, err
	}
	previous := make([]domain.PermissionGrant, 0, len(current))
	for _, p := range current {
		previous = append(previous, domain.PermissionGrant{Operator: p.Operator, Permissions: p.Permissions})
	}
	return m.Modify(ctx, positionID, epochID, currentIDs, Diff(previous, grants))
}

// DeleteAll removes every permission in permissionIDs.
func (m *Manager) DeleteAll(ctx context.Context, permissionIDs []string) error {
	var errs []error
	for _, id := range permissionIDs {
		if err := m.perms.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Diff returns the entries that turn previous into next, sorted by operator.
// Operators missing from next get an empty (revoking) entry.
func Diff(previous, next []domain.PermissionGrant) []domain.PermissionGrant {
	prev := make(map[string][]domain.Permission, len(previous))
	for _, g := range previous {
		if perms := Normalize(g.Permissions); len(perms) > 0 {
			prev[strings.ToLower(g.Operator)] = perms
		}
	}
	want := make(map[string][]domain.Permission, len(next))
	for _, g := range next {
		want[strings.ToLower(g.Operator)] = Normalize(g.Permissions)
	}

	var out []domain.PermissionGrant
	for operator, perms := range want {
		if !equal(prev[operator], perms) {
			out = append(out, domain.PermissionGrant{Operator: operator, Permissions: perms})
		}
	}
	for operator := range prev {
		if _, ok := want[operator]; !ok {
			out = append(out, domain.PermissionGrant{Operator: operator, Permissions: nil})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}

var rank = map[domain.Permission]int{
	domain.PermissionIncrease:  0,
	domain.PermissionReduce:    1,
	domain.PermissionWithdraw:  2,
	domain.PermissionTerminate: 3,
}

// Normalize dedupes permissions and orders them by their on-chain index.
// Unknown values are dropped.
func Normalize(perms []domain.Permission) []domain.Permission {
	seen := make(map[domain.Permission]bool, len(perms))
	out := make([]domain.Permission, 0, len(perms))
	for _, p := range perms {
		if _, known := rank[p]; !known || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out
}

func equal(a, b []domain.Permission) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
