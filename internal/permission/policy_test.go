package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBundleForKnownRoles(t *testing.T) {
	table := NewPolicyTable(DefaultCatalog())

	admin := table.BundleFor("admin")
	require.True(t, admin.CanView)
	require.True(t, admin.CanEdit)
	require.True(t, admin.CanDelete)
	require.Contains(t, admin.AdditionalPermissions, "project.admin")

	finance := table.BundleFor("finance")
	require.True(t, finance.CanView)
	require.True(t, finance.CanEdit)
	require.False(t, finance.CanDelete)
	require.Contains(t, finance.AdditionalPermissions, "project_data.edit_financial")

	partner := table.BundleFor("partner")
	require.True(t, partner.CanView)
	require.False(t, partner.CanEdit)
	require.False(t, partner.CanDelete)
}

func TestBundleForUnknownRoleFallsBack(t *testing.T) {
	table := NewPolicyTable(DefaultCatalog())

	bundle := table.BundleFor("never-heard-of-it")
	require.True(t, bundle.CanView)
	require.True(t, bundle.CanEdit)
	require.False(t, bundle.CanDelete)
	require.Contains(t, bundle.AdditionalPermissions, "project.view_assigned")
	require.False(t, table.Known("never-heard-of-it"))
	require.True(t, table.Known("operator"))
}

func TestPolicyTableCopiesCatalog(t *testing.T) {
	catalog := PolicyCatalog{
		DefaultProjectRole: "operator",
		Bundles: map[string]RolePolicyBundle{
			"driver": {AdditionalPermissions: []string{"project.view_assigned"}, CanView: true},
		},
		Fallback: RolePolicyBundle{CanView: true},
	}
	table := NewPolicyTable(catalog)

	catalog.Bundles["driver"] = RolePolicyBundle{}
	catalog.Bundles["intruder"] = RolePolicyBundle{CanDelete: true}

	bundle := table.BundleFor("driver")
	require.True(t, bundle.CanView)
	require.Equal(t, []string{"project.view_assigned"}, bundle.AdditionalPermissions)
	require.False(t, table.Known("intruder"))
}

func TestDefaultProjectRole(t *testing.T) {
	require.Equal(t, "operator", NewPolicyTable(DefaultCatalog()).DefaultProjectRole())
	require.Equal(t, "operator", NewPolicyTable(PolicyCatalog{}).DefaultProjectRole())
	require.Equal(t, "driver", NewPolicyTable(PolicyCatalog{DefaultProjectRole: "driver"}).DefaultProjectRole())
}
