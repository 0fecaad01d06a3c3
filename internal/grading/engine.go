package grading

import "sort"

// ScalePoints is the total a review or report is normalized to.
const ScalePoints = 10.0

// Q is the minimal view of a question needed for grading.
type Q struct {
	Correct []int
}

// Result is the outcome of scoring a single question.
type Result struct {
	Earned  float64
	Missing []int // correct options left unselected, ascending
	Extra   []int // wrong options selected, ascending
}

// Score awards partial credit for one question:
//
//	earned = clamp((c - w) / k, 0, 1) * points
//
// where c counts correct selections, w wrong selections and k the correct
// options. A question without correct options scores zero with nothing
// missing or extra. Duplicate indices count once.
func Score(selected, correct []int, points float64) Result {
	key := toSet(correct)
	if len(key) == 0 {
		return Result{Missing: []int{}, Extra: []int{}}
	}
	sel := toSet(selected)

	c, w := 0, 0
	extra := make([]int, 0)
	for s := range sel {
		if _, ok := key[s]; ok {
			c++
		} else {
			w++
			extra = append(extra, s)
		}
	}
	missing := make([]int, 0)
	for k := range key {
		if _, ok := sel[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Ints(missing)
	sort.Ints(extra)

	ratio := float64(c-w) / float64(len(key))
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return Result{Earned: ratio * points, Missing: missing, Extra: extra}
}

// Exact reports whether the selection matches the correct set exactly.
func Exact(selected, correct []int) bool {
	return setEqual(toSet(selected), toSet(correct))
}

// Summary is an attempt's result at one point per question.
type Summary struct {
	Score   float64
	Total   int
	Correct int // questions answered exactly
}

// OutOfTen rescales Score to the 10-point display scale.
func (s Summary) OutOfTen() float64 {
	total := s.Total
	if total < 1 {
		total = 1
	}
	return s.Score / float64(total) * ScalePoints
}

// Summarize scores answers (indexed like qs; missing entries count as
// unanswered) at one point per question.
func Summarize(qs []Q, answers [][]int) Summary {
	sum := Summary{Total: len(qs)}
	for i, q := range qs {
		sel := answerAt(answers, i)
		sum.Score += Score(sel, q.Correct, 1).Earned
		if Exact(sel, q.Correct) {
			sum.Correct++
		}
	}
	return sum
}

// QuestionReview is one line of a detailed review.
type QuestionReview struct {
	Index    int // real question index
	Selected []int
	Correct  []int
	Points   float64 // maximum for this question
	Result
}

// Review scores every question on the 10-point scale, so the Earned
// values of a full review sum to at most ScalePoints.
func Review(qs []Q, answers [][]int) []QuestionReview {
	if len(qs) == 0 {
		return nil
	}
	points := ScalePoints / float64(len(qs))
	out := make([]QuestionReview, len(qs))
	for i, q := range qs {
		sel := SortedSet(answerAt(answers, i))
		out[i] = QuestionReview{
			Index:    i,
			Selected: sel,
			Correct:  SortedSet(q.Correct),
			Points:   points,
			Result:   Score(sel, q.Correct, points),
		}
	}
	return out
}

// helpers

func answerAt(answers [][]int, i int) []int {
	if i < len(answers) {
		return answers[i]
	}
	return nil
}

func toSet(arr []int) map[int]struct{} {
	m := make(map[int]struct{}, len(arr))
	for _, v := range arr {
		m[v] = struct{}{}
	}
	return m
}

func setEqual(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// SortedSet returns the distinct values of arr in ascending order.
func SortedSet(arr []int) []int {
	set := toSet(arr)
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
