package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

type RejectReason string

const (
	NotOpen       RejectReason = "not_open"
	Closed        RejectReason = "closed"
	AttemptLimit  RejectReason = "attempt_limit"
	WrongPassword RejectReason = "wrong_password"
	WrongRole     RejectReason = "wrong_role"
)

// Rejection is a domain rule refusing entry to an exam. It is an expected
// outcome, not a failure; callers branch on Reason.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("exam entry rejected (%s): %s", r.Reason, r.Detail)
}

// IsRejection reports whether err is a Rejection for reason. An empty
// reason matches any rejection.
func IsRejection(err error, reason RejectReason) bool {
	var r *Rejection
	if !errors.As(err, &r) {
		return false
	}
	return reason == "" || r.Reason == reason
}

func reject(reason RejectReason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Admit runs the entry checks for the principal in ctx, in order: role,
// exam window, attempt limit, exam password.
func Admit(ctx context.Context, st exam.Store, e exam.Exam, password string, now time.Time) (rbac.Principal, error) {
	p, err := rbac.Require(ctx, rbac.PermExamTake)
	if err != nil {
		return rbac.Principal{}, reject(WrongRole, "only students can take exams")
	}
	switch e.Status(now) {
	case exam.ExamWaiting:
		return rbac.Principal{}, reject(NotOpen, "exam %s opens at %s", e.AccessCode, time.Unix(e.StartTS, 0).Format(time.RFC3339))
	case exam.ExamClosed:
		return rbac.Principal{}, reject(Closed, "exam %s closed at %s", e.AccessCode, time.Unix(e.EndTS, 0).Format(time.RFC3339))
	}
	if e.AttemptLimit > 0 {
		if used := st.CountAttempts(p.Username, e.ExamID); used >= e.AttemptLimit {
			return rbac.Principal{}, reject(AttemptLimit, "%d of %d attempts used", used, e.AttemptLimit)
		}
	}
	if e.Password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(e.Password)) != 1 {
		return rbac.Principal{}, reject(WrongPassword, "exam password does not match")
	}
	return p, nil
}
