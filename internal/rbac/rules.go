package rbac

// Role names match the stored user roles.
const (
	RoleAdmin   = "Admin"
	RoleTeacher = "Teacher"
	RoleStudent = "Student"
)

const (
	PermExamTake       = "exam:take"
	PermExamView       = "exam:view"
	PermExamPublish    = "exam:publish"
	PermExamDeleteOwn  = "exam:delete_own"
	PermTemplateEdit   = "template:edit"
	PermAttemptViewOwn = "attempt:view_own"
	PermAttemptViewAll = "attempt:view_all"
	PermAttemptDelete  = "attempt:delete"
	PermUserCreate     = "user:create"
	PermUserList       = "user:list"
	PermUserReset      = "user:reset_password"
	PermUserDelete     = "user:delete"
	PermChangePassword = "account:change_password"
	PermUpdateProfile  = "account:update_profile"
)

// RolePermissions is the default policy. Only students take exams, so the
// admin entry is an explicit list rather than "*".
var RolePermissions = map[string][]string{
	RoleStudent: {
		PermExamTake,
		PermAttemptViewOwn,
		PermChangePassword,
		PermUpdateProfile,
	},
	RoleTeacher: {
		"template:*",
		PermExamPublish,
		PermExamDeleteOwn,
		PermExamView,
		PermAttemptViewAll,
		PermAttemptDelete,
		PermChangePassword,
		PermUpdateProfile,
	},
	RoleAdmin: {
		"user:*",
		PermExamView,
		PermAttemptViewAll,
		PermChangePassword,
	},
}
