package exam

import (
	"strings"

	"github.com/golang/glog"
)

const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 240
	MaxAttemptLimit    = 50
)

// PublishOptions are the teacher's choices when turning a template into an exam.
type PublishOptions struct {
	CreatedBy        string
	Password         string // empty means no password
	DurationMinutes  int
	AllowReview      bool
	AttemptLimit     int // 0 means unlimited
	StartTS          int64
	EndTS            int64
	EnableMonitoring bool
	CodeLength       int
}

// Publish freezes a copy of the template's questions into a new exam with
// a fresh ID and access code, and stores it.
func Publish(st Store, tpl Template, opts PublishOptions) (Exam, error) {
	switch {
	case opts.EndTS <= opts.StartTS:
		return Exam{}, NewInvalid("close time must be after open time")
	case opts.DurationMinutes < MinDurationMinutes || opts.DurationMinutes > MaxDurationMinutes:
		return Exam{}, NewInvalid("duration must be %d..%d minutes", MinDurationMinutes, MaxDurationMinutes)
	case opts.AttemptLimit < 0 || opts.AttemptLimit > MaxAttemptLimit:
		return Exam{}, NewInvalid("attempt limit must be 0..%d", MaxAttemptLimit)
	case strings.TrimSpace(opts.CreatedBy) == "":
		return Exam{}, NewInvalid("publisher is required")
	}
	e := Exam{
		ExamID:           st.NewExamID(),
		TemplateID:       tpl.TemplateID,
		Title:            tpl.Title,
		CreatedBy:        opts.CreatedBy,
		AccessCode:       st.NewUniqueCode(opts.CodeLength),
		Password:         opts.Password,
		DurationSeconds:  opts.DurationMinutes * 60,
		AllowReview:      opts.AllowReview,
		AttemptLimit:     opts.AttemptLimit,
		StartTS:          opts.StartTS,
		EndTS:            opts.EndTS,
		EnableMonitoring: opts.EnableMonitoring,
		Questions:        copyQuestions(tpl.Questions),
	}
	if err := st.AddExam(e); err != nil {
		return Exam{}, err
	}
	glog.Infof("exam %s published from template %s by %s with code %s", e.ExamID, tpl.TemplateID, e.CreatedBy, e.AccessCode)
	return e, nil
}
