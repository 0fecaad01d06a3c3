package exam

import "github.com/mind-engage/mindengage-quiz/internal/grading"

// GradingKey is the exam's answer key in the form the grader consumes.
func (e Exam) GradingKey() []grading.Q {
	out := make([]grading.Q, len(e.Questions))
	for i, q := range e.Questions {
		out[i] = grading.Q{Correct: q.CorrectIndices}
	}
	return out
}

// Summarize scores a stored attempt against the exam it was taken on.
func Summarize(e Exam, a Attempt) grading.Summary {
	return grading.Summarize(e.GradingKey(), a.Answers)
}

// Review is the per-question breakdown of an attempt on the 10-point scale.
func Review(e Exam, a Attempt) []grading.QuestionReview {
	return grading.Review(e.GradingKey(), a.Answers)
}
