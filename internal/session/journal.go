package session

import (
	"context"

	"github.com/mind-engage/mindengage-quiz/internal/audit"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
)

// Journaled records every stored attempt in r, tagged with the session id
// and the submit reason.
func Journaled(r audit.Recorder) Option {
	return OnSubmit(func(sessionID string, a exam.Attempt, reason Reason) {
		audit.Safe(context.Background(), r, audit.Event{
			Type:  audit.TypeAttemptSubmitted,
			Key:   a.AttemptID,
			Actor: a.Username,
			Data: map[string]interface{}{
				"session_id": sessionID,
				"exam_id":    a.ExamID,
				"reason":     string(reason),
				"score":      a.Score,
				"total":      a.Total,
			},
		})
	})
}
