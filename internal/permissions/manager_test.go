package permissions

import (
	"context"
	"reflect"
	"testing"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/storage/memory"
)

const (
	opA = "0x00000000000000000000000000000000000000aa"
	opB = "0x00000000000000000000000000000000000000bb"
	opC = "0x00000000000000000000000000000000000000cc"
)

func grant(op string, perms ...domain.Permission) domain.PermissionGrant {
	return domain.PermissionGrant{Operator: op, Permissions: perms}
}

func TestCreateFromGrants_SkipsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		grants  []domain.PermissionGrant
		want    map[string][]domain.Permission // operator -> stored permissions
		wantIDs []string
	}{
		{
			name: "empty grant skipped and duplicates normalized",
			grants: []domain.PermissionGrant{
				grant(opA, domain.PermissionWithdraw, domain.PermissionIncrease, domain.PermissionWithdraw),
				grant(opB),
			},
			want:    map[string][]domain.Permission{opA: {domain.PermissionIncrease, domain.PermissionWithdraw}},
			wantIDs: []string{"1-tx0-" + opA},
		},
		{
			name: "later grant replaces earlier",
			grants: []domain.PermissionGrant{
				grant(opA, domain.PermissionWithdraw),
				grant(opB, domain.PermissionReduce),
				grant(opA, domain.PermissionTerminate),
			},
			want: map[string][]domain.Permission{
				opA: {domain.PermissionTerminate},
				opB: {domain.PermissionReduce},
			},
			wantIDs: []string{"1-tx0-" + opA, "1-tx0-" + opB},
		},
		{
			name: "later empty grant revokes earlier",
			grants: []domain.PermissionGrant{
				grant(opA, domain.PermissionWithdraw),
				grant(opB, domain.PermissionReduce),
				grant(opA),
			},
			want:    map[string][]domain.Permission{opB: {domain.PermissionReduce}},
			wantIDs: []string{"1-tx0-" + opB},
		},
		{
			name: "revoke then grant again",
			grants: []domain.PermissionGrant{
				grant(opA),
				grant(opA, domain.PermissionIncrease),
			},
			want:    map[string][]domain.Permission{opA: {domain.PermissionIncrease}},
			wantIDs: []string{"1-tx0-" + opA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewEntityStore()
			m := NewManager(store)
			ctx := context.Background()

			created, err := m.CreateFromGrants(ctx, "1", "1-tx0", tt.grants)
			if err != nil {
				t.Fatalf("CreateFromGrants failed: %v", err)
			}
			if !reflect.DeepEqual(created, tt.wantIDs) {
				t.Fatalf("created = %v, want %v", created, tt.wantIDs)
			}

			if n, _ := store.Count(ctx, storage.KindPositionPermission); n != len(tt.want) {
				t.Errorf("stored permissions = %d, want %d", n, len(tt.want))
			}
			perms, err := m.Load(ctx, created)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			for _, p := range perms {
				if !reflect.DeepEqual(p.Permissions, tt.want[p.Operator]) {
					t.Errorf("%s permissions = %v, want %v", p.Operator, p.Permissions, tt.want[p.Operator])
				}
			}
		})
	}
}

func TestDuplicate_CopiesIntoNewEpoch(t *testing.T) {
	store := memory.NewEntityStore()
	m := NewManager(store)
	ctx := context.Background()

	first, _ := m.CreateFromGrants(ctx, "1", "1-tx0", []domain.PermissionGrant{
		grant(opA, domain.PermissionTerminate),
		grant(opB, domain.PermissionReduce),
	})

	second, err := m.Duplicate(ctx, "1", "1-tx1", first)
	if err != nil {
		t.Fatalf("Duplicate failed: %v", err)
	}
	want := []string{"1-tx1-" + opA, "1-tx1-" + opB}
	if !reflect.DeepEqual(second, want) {
		t.Fatalf("duplicated ids = %v, want %v", second, want)
	}

	// The previous epoch's grants stay as history.
	if n, _ := store.Count(ctx, storage.KindPositionPermission); n != 4 {
		t.Errorf("stored permissions = %d, want 4", n)
	}
}

func TestModify(t *testing.T) {
	store := memory.NewEntityStore()
	m := NewManager(store)
	ctx := context.Background()

	current, _ := m.CreateFromGrants(ctx, "1", "e", []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw),
		grant(opB, domain.PermissionIncrease),
	})

	result, touched, err := m.Modify(ctx, "1", "e", current, []domain.PermissionGrant{
		grant(opA),                                          // revoke
		grant(opB, domain.PermissionTerminate),              // replace
		grant(opC, domain.PermissionReduce),                 // create
		grant("0x00000000000000000000000000000000000000dd"), // no grant, nothing to revoke
	})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	if !reflect.DeepEqual(result, []string{"e-" + opB, "e-" + opC}) {
		t.Errorf("result = %v", result)
	}
	if len(touched) != 3 {
		t.Fatalf("touched = %v, want 3 entries", touched)
	}
	if touched[0].Operator != opA || len(touched[0].Permissions) != 0 {
		t.Errorf("touched[0] = %+v, want revoke of %s", touched[0], opA)
	}

	if _, err := store.Load(ctx, storage.KindPositionPermission, "e-"+opA); err == nil {
		t.Error("revoked permission still stored")
	}
	perms, _ := m.Load(ctx, []string{"e-" + opB})
	if !reflect.DeepEqual(perms[0].Permissions, []domain.Permission{domain.PermissionTerminate}) {
		t.Errorf("replaced permissions = %v", perms[0].Permissions)
	}
}

func TestModify_IgnoresUnchangedGrant(t *testing.T) {
	store := memory.NewEntityStore()
	m := NewManager(store)
	ctx := context.Background()

	current, _ := m.CreateFromGrants(ctx, "1", "e", []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw),
	})

	result, touched, err := m.Modify(ctx, "1", "e", current, []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw, domain.PermissionWithdraw),
	})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if len(touched) != 0 {
		t.Errorf("touched = %v, want none for an unchanged grant", touched)
	}
	if !reflect.DeepEqual(result, current) {
		t.Errorf("result = %v, want %v", result, current)
	}

	_, touched, err = m.Modify(ctx, "1", "e", current, []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw),
		grant(opB, domain.PermissionReduce),
	})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if len(touched) != 1 || touched[0].Operator != opB {
		t.Errorf("touched = %v, want only %s", touched, opB)
	}
}

func TestReplace_UsesDiff(t *testing.T) {
	m := NewManager(memory.NewEntityStore())
	ctx := context.Background()

	current, _ := m.CreateFromGrants(ctx, "1", "e", []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw),
		grant(opB, domain.PermissionIncrease),
	})

	result, touched, err := m.Replace(ctx, "1", "e", current, []domain.PermissionGrant{
		grant(opB, domain.PermissionIncrease),
		grant(opC, domain.PermissionWithdraw),
	})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if !reflect.DeepEqual(result, []string{"e-" + opB, "e-" + opC}) {
		t.Errorf("result = %v", result)
	}
	// opB unchanged, so only opA (revoked) and opC (created) are touched.
	if len(touched) != 2 || touched[0].Operator != opA || touched[1].Operator != opC {
		t.Errorf("touched = %+v", touched)
	}
}

func TestDeleteAll(t *testing.T) {
	store := memory.NewEntityStore()
	m := NewManager(store)
	ctx := context.Background()

	current, _ := m.CreateFromGrants(ctx, "1", "e", []domain.PermissionGrant{
		grant(opA, domain.PermissionWithdraw),
		grant(opB, domain.PermissionIncrease),
	})
	if err := m.DeleteAll(ctx, current); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n, _ := store.Count(ctx, storage.KindPositionPermission); n != 0 {
		t.Errorf("stored permissions = %d, want 0", n)
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous []domain.PermissionGrant
		next     []domain.PermissionGrant
		want     []domain.PermissionGrant
	}{
		{
			name:     "identical",
			previous: []domain.PermissionGrant{grant(opA, domain.PermissionWithdraw)},
			next:     []domain.PermissionGrant{grant(opA, domain.PermissionWithdraw)},
			want:     nil,
		},
		{
			name:     "order does not matter",
			previous: []domain.PermissionGrant{grant(opA, domain.PermissionWithdraw, domain.PermissionIncrease)},
			next:     []domain.PermissionGrant{grant(opA, domain.PermissionIncrease, domain.PermissionWithdraw)},
			want:     nil,
		},
		{
			name:     "dropped operator revoked",
			previous: []domain.PermissionGrant{grant(opA, domain.PermissionWithdraw)},
			next:     nil,
			want:     []domain.PermissionGrant{{Operator: opA}},
		},
		{
			name:     "changed and added",
			previous: []domain.PermissionGrant{grant(opA, domain.PermissionWithdraw)},
			next: []domain.PermissionGrant{
				grant(opB, domain.PermissionReduce),
				grant(opA, domain.PermissionTerminate),
			},
			want: []domain.PermissionGrant{
				grant(opA, domain.PermissionTerminate),
				grant(opB, domain.PermissionReduce),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.previous, tt.next)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Diff() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
