package authz

// Permission is one fine-grained capability. The enumeration is fixed;
// role→permission mappings may change at runtime.
type Permission string

const (
	PermViewFindings     Permission = "findings:view"
	PermManageFindings   Permission = "findings:manage"
	PermRunAssessment    Permission = "assessment:run"
	PermViewAssessment   Permission = "assessment:view"
	PermExecuteSandbox   Permission = "sandbox:execute"
	PermViewAuditLog     Permission = "audit:view"
	PermManageAuditLog   Permission = "audit:manage"
	PermViewCompliance   Permission = "compliance:view"
	PermManageCompliance Permission = "compliance:manage"
	PermManageUsers      Permission = "users:manage"
	PermManageRoles      Permission = "roles:manage"
	PermRotateKeys       Permission = "keys:rotate"
	PermManageConfig     Permission = "config:manage"
	PermViewReports      Permission = "reports:view"
	PermGenerateReports  Permission = "reports:generate"
	PermManageKnowledge  Permission = "knowledge:manage"
)

// AllPermissions lists every defined permission.
func AllPermissions() []Permission {
	return []Permission{
		PermViewFindings, PermManageFindings,
		PermRunAssessment, PermViewAssessment,
		PermExecuteSandbox,
		PermViewAuditLog, PermManageAuditLog,
		PermViewCompliance, PermManageCompliance,
		PermManageUsers, PermManageRoles,
		PermRotateKeys, PermManageConfig,
		PermViewReports, PermGenerateReports,
		PermManageKnowledge,
	}
}

// Role names recognized by the default mapping.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleUser          Role = "user"
	RoleReadOnly      Role = "read_only"
	RoleSystem        Role = "system"
)

// DefaultRolePermissions returns the built-in role→permission mapping.
func DefaultRolePermissions() map[Role][]Permission {
	return map[Role][]Permission{
		RoleAdministrator: AllPermissions(),
		RoleUser: {
			PermViewFindings, PermManageFindings,
			PermRunAssessment, PermViewAssessment,
			PermExecuteSandbox,
			PermViewCompliance,
			PermViewReports, PermGenerateReports,
		},
		RoleReadOnly: {
			PermViewFindings,
			PermViewAssessment,
			PermViewCompliance,
			PermViewReports,
		},
		RoleSystem: {
			PermRunAssessment,
			PermExecuteSandbox,
			PermViewAuditLog,
			PermGenerateReports,
		},
	}
}
