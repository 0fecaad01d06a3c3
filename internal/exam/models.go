package exam

import (
	"strings"
	"time"
)

// OptionsPerQuestion is fixed: every question carries exactly four options.
const OptionsPerQuestion = 4

type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleStudent Role = "Student"
)

var roleCanon = map[string]Role{
	"admin":   RoleAdmin,
	"teacher": RoleTeacher,
	"student": RoleStudent,
}

// CanonicalRole case-normalizes a stored role; anything unrecognized is a Student.
func CanonicalRole(s string) Role {
	if r, ok := roleCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r
	}
	return RoleStudent
}

type User struct {
	Username           string `json:"username"`
	Password           string `json:"password"`
	Role               Role   `json:"role"`
	FullName           string `json:"full_name"`
	DOB                string `json:"dob"` // YYYY-MM-DD
	StudentID          string `json:"student_id"`
	MustChangePassword bool   `json:"must_change_password"`
}

// DisplayName is the full name when set, the username otherwise.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

type Question struct {
	Text           string   `json:"text"`
	Options        []string `json:"options"`
	CorrectIndices []int    `json:"correct_indices"`
}

// MultiSelect reports whether the question is answered with checkboxes
// rather than a single radio choice.
func (q Question) MultiSelect() bool { return len(q.CorrectIndices) > 1 }

type Template struct {
	TemplateID string     `json:"template_id"`
	Title      string     `json:"title"`
	CreatedBy  string     `json:"created_by"`
	Questions  []Question `json:"questions"`
}

type ExamStatus string

const (
	ExamWaiting ExamStatus = "WAITING"
	ExamOpen    ExamStatus = "OPEN"
	ExamClosed  ExamStatus = "CLOSED"
)

type Exam struct {
	ExamID           string     `json:"exam_id"`
	TemplateID       string     `json:"template_id"`
	Title            string     `json:"title"`
	CreatedBy        string     `json:"created_by"`
	AccessCode       string     `json:"access_code"`
	Password         string     `json:"password"`
	DurationSeconds  int        `json:"duration_seconds"`
	AllowReview      bool       `json:"allow_review"`
	AttemptLimit     int        `json:"attempt_limit"` // 0 means unlimited
	StartTS          int64      `json:"start_ts"`
	EndTS            int64      `json:"end_ts"`
	EnableMonitoring bool       `json:"enable_monitoring"`
	Questions        []Question `json:"questions"`
}

// Status places now relative to the exam's inclusive [start_ts, end_ts] window.
func (e Exam) Status(now time.Time) ExamStatus {
	ts := now.Unix()
	switch {
	case ts < e.StartTS:
		return ExamWaiting
	case ts > e.EndTS:
		return ExamClosed
	default:
		return ExamOpen
	}
}

type Attempt struct {
	AttemptID        string  `json:"attempt_id"`
	ExamID           string  `json:"exam_id"`
	Code             string  `json:"code"`
	Title            string  `json:"title"`
	Username         string  `json:"username"`
	FullName         string  `json:"full_name"`
	StudentID        string  `json:"student_id"`
	Score            float64 `json:"score"` // max = Total
	Total            int     `json:"total"`
	StartedAt        float64 `json:"started_at"`   // epoch seconds
	SubmittedAt      float64 `json:"submitted_at"` // epoch seconds
	TimeTakenSeconds int     `json:"time_taken_seconds"`
	Answers          [][]int `json:"answers"` // by real question index
}

// Document is the whole persisted state.
type Document struct {
	Users     []User     `json:"users"`
	Templates []Template `json:"templates"`
	Exams     []Exam     `json:"exams"`
	Attempts  []Attempt  `json:"attempts"`
}

// clone copies the collections so a failed save can restore the previous
// state. Elements are replaced, never mutated through nested slices, so a
// shallow element copy is enough.
func (d Document) clone() Document {
	return Document{
		Users:     append([]User(nil), d.Users...),
		Templates: append([]Template(nil), d.Templates...),
		Exams:     append([]Exam(nil), d.Exams...),
		Attempts:  append([]Attempt(nil), d.Attempts...),
	}
}

// normalize replaces nil collections with empty ones so the file always
// carries the four arrays.
func (d *Document) normalize() {
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.Templates == nil {
		d.Templates = []Template{}
	}
	if d.Exams == nil {
		d.Exams = []Exam{}
	}
	if d.Attempts == nil {
		d.Attempts = []Attempt{}
	}
	for i := range d.Templates {
		d.Templates[i].Questions = normalizeQuestions(d.Templates[i].Questions)
	}
	for i := range d.Exams {
		d.Exams[i].Questions = normalizeQuestions(d.Exams[i].Questions)
	}
	for i := range d.Attempts {
		if d.Attempts[i].Answers == nil {
			d.Attempts[i].Answers = [][]int{}
		}
		for j, a := range d.Attempts[i].Answers {
			if a == nil {
				d.Attempts[i].Answers[j] = []int{}
			}
		}
	}
}

func normalizeQuestions(qs []Question) []Question {
	if qs == nil {
		return []Question{}
	}
	for i := range qs {
		if qs[i].Options == nil {
			qs[i].Options = []string{}
		}
		if qs[i].CorrectIndices == nil {
			qs[i].CorrectIndices = []int{}
		}
	}
	return qs
}
