package exam

// Store owns users, templates, published exams and attempts. Every
// mutating call is durable before it returns; a failed mutation leaves
// the store unchanged.
type Store interface {
	// Users
	FindUser(username string) (User, bool)
	ListUsers() []User
	AddUser(u User) error
	UpdatePassword(username, password string) error
	SetMustChangePassword(username string, v bool) error
	// SetPassword replaces the password and the forced-change flag together.
	SetPassword(username, password string, mustChange bool) error
	UpdateProfile(username, fullName, dob, studentID string) error
	DeleteUser(username string) error

	// IDs and codes
	NewTemplateID() string
	NewExamID() string
	NewAttemptID() string
	NewUniqueCode(length int) string

	// Templates
	AddTemplate(t Template) error
	UpdateTemplate(t Template) error
	GetTemplate(id string) (Template, bool)
	ListTemplates() []Template
	ListTemplatesByTeacher(teacher string) []Template
	DeleteTemplate(id string) error
	HasExamFromTemplate(templateID string) bool

	// Exams
	AddExam(e Exam) error
	GetExam(id string) (Exam, bool)
	GetExamByCode(code string) (Exam, bool)
	ListExams() []Exam
	ListExamsByTeacher(teacher string) []Exam
	DeleteExam(id string) error

	// Attempts (append-only)
	AddAttempt(a Attempt) error
	GetAttempt(id string) (Attempt, bool)
	ListAttemptsByUser(username string) []Attempt
	ListAttemptsByExam(examID string) []Attempt
	CountAttempts(username, examID string) int
	DeleteAttemptsForExam(examID string) (int, error)
}
