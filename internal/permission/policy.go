package permission

// RolePolicyBundle is the project-grant bundle attached to a system role:
// extra project-domain permission keys plus the three capability flags
// written into a grant row.
type RolePolicyBundle struct {
	AdditionalPermissions []string `json:"additional_permissions"`
	CanView               bool     `json:"can_view"`
	CanEdit               bool     `json:"can_edit"`
	CanDelete             bool     `json:"can_delete"`
}

// PolicyCatalog is the immutable configuration a PolicyTable is built from.
type PolicyCatalog struct {
	Bundles            map[string]RolePolicyBundle
	Fallback           RolePolicyBundle
	DefaultProjectRole string
}

// PolicyTable resolves a system role to its RolePolicyBundle. Lookups are
// total: roles missing from the catalog resolve to the fallback bundle, so
// new roles degrade safely without code changes here.
type PolicyTable struct {
	bundles     map[string]RolePolicyBundle
	fallback    RolePolicyBundle
	defaultRole string
}

// NewPolicyTable copies the catalog so later mutation of the input cannot
// change lookup results.
func NewPolicyTable(catalog PolicyCatalog) *PolicyTable {
	bundles := make(map[string]RolePolicyBundle, len(catalog.Bundles))
	for role, bundle := range catalog.Bundles {
		bundle.AdditionalPermissions = normalizeKeys(bundle.AdditionalPermissions)
		bundles[role] = bundle
	}
	fallback := catalog.Fallback
	fallback.AdditionalPermissions = normalizeKeys(fallback.AdditionalPermissions)
	defaultRole := catalog.DefaultProjectRole
	if defaultRole == "" {
		defaultRole = "operator"
	}
	return &PolicyTable{bundles: bundles, fallback: fallback, defaultRole: defaultRole}
}

// BundleFor returns the bundle for role, or the fallback bundle for roles
// not present in the catalog.
func (t *PolicyTable) BundleFor(role string) RolePolicyBundle {
	if bundle, ok := t.bundles[role]; ok {
		return bundle
	}
	return t.fallback
}

// Known reports whether role is explicitly enumerated in the catalog.
func (t *PolicyTable) Known(role string) bool {
	_, ok := t.bundles[role]
	return ok
}

// DefaultProjectRole is the role used for automatic grants, e.g. the
// activation fan-out.
func (t *PolicyTable) DefaultProjectRole() string {
	return t.defaultRole
}

// DefaultCatalog returns the production role catalog. Administrators get
// full project CRUD plus administrative keys, finance gets financial
// view/edit without delete, operational roles get operational data, and
// read-only roles get view access only.
func DefaultCatalog() PolicyCatalog {
	return PolicyCatalog{
		DefaultProjectRole: "operator",
		Bundles: map[string]RolePolicyBundle{
			"admin": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_all",
					"project.admin",
					"project_data",
					"project_data.view_financial",
					"project_data.edit_financial",
					"project_data.view_operational",
					"project_data.edit_operational",
				},
				CanView: true, CanEdit: true, CanDelete: true,
			},
			"finance": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_all",
					"project_data",
					"project_data.view_financial",
					"project_data.edit_financial",
				},
				CanView: true, CanEdit: true, CanDelete: false,
			},
			"business": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_assigned",
					"project.manage",
					"project_data",
					"project_data.view_operational",
					"project_data.edit_operational",
				},
				CanView: true, CanEdit: true, CanDelete: false,
			},
			"operator": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_assigned",
					"project_data",
					"project_data.view_operational",
				},
				CanView: true, CanEdit: true, CanDelete: false,
			},
			"partner": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_assigned",
					"project_data",
					"project_data.view_operational",
				},
				CanView: true, CanEdit: false, CanDelete: false,
			},
			"viewer": {
				AdditionalPermissions: []string{
					"project_access",
					"project.view_all",
					"project_data",
					"project_data.view_financial",
					"project_data.view_operational",
				},
				CanView: true, CanEdit: false, CanDelete: false,
			},
		},
		Fallback: RolePolicyBundle{
			AdditionalPermissions: []string{
				"project_access",
				"project.view_assigned",
				"project_data",
				"project_data.view_operational",
			},
			CanView: true, CanEdit: true, CanDelete: false,
		},
	}
}
