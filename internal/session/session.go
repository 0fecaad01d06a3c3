package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
)

type State int

const (
	Intro State = iota
	InProgress
	Submitted
	// Abandoned: the student left before submitting; nothing was stored.
	Abandoned
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Submitted:
		return "submitted"
	case Abandoned:
		return "abandoned"
	default:
		return "intro"
	}
}

type Reason string

const (
	ReasonManual   Reason = "manual"
	ReasonTimeout  Reason = "timeout"
	ReasonCheating Reason = "cheating"
)

// QuestionStatus is what the navigator shows for one display position.
type QuestionStatus string

const (
	StatusUnanswered QuestionStatus = "unanswered"
	StatusCurrent    QuestionStatus = "current"
	StatusAnswered   QuestionStatus = "answered"
	StatusMarked     QuestionStatus = "marked"
)

const (
	DefaultMaxViolations = 3
	DefaultCooldown      = time.Second
	DefaultMonitorGrace  = 2 * time.Second
)

// SubmitFunc observes every stored attempt.
type SubmitFunc func(sessionID string, a exam.Attempt, reason Reason)

type config struct {
	clock         clock.PassiveClock
	rng           *rand.Rand
	maxViolations int
	cooldown      time.Duration
	grace         time.Duration
	onSubmit      SubmitFunc
}

type Option func(*config)

func WithClock(c clock.PassiveClock) Option { return func(cfg *config) { cfg.clock = c } }

// WithRand fixes the source used to shuffle questions.
func WithRand(r *rand.Rand) Option { return func(cfg *config) { cfg.rng = r } }

func WithMaxViolations(n int) Option { return func(cfg *config) { cfg.maxViolations = n } }

func WithCooldown(d time.Duration) Option { return func(cfg *config) { cfg.cooldown = d } }

// WithMonitorGrace sets how long after Start focus loss is ignored.
func WithMonitorGrace(d time.Duration) Option { return func(cfg *config) { cfg.grace = d } }

func OnSubmit(fn SubmitFunc) Option { return func(cfg *config) { cfg.onSubmit = fn } }

// Session is one student's run through one exam. All methods are safe for
// concurrent use; the timer, the proctor and the UI may call in from
// different goroutines.
type Session struct {
	id    string
	store exam.Store
	exam  exam.Exam
	cfg   config

	mu         sync.Mutex
	state      State
	student    exam.User
	order      []int   // display index -> real index
	answers    [][]int // by real index
	marked     map[int]bool
	current    int
	startedAt  time.Time
	endTime    time.Time
	mon        *monitor
	submitting bool
	reason     Reason
	attempt    exam.Attempt
}

// New prepares a session for e in the Intro state.
func New(st exam.Store, e exam.Exam, opts ...Option) *Session {
	cfg := config{
		clock:         clock.RealClock{},
		maxViolations: DefaultMaxViolations,
		cooldown:      DefaultCooldown,
		grace:         DefaultMonitorGrace,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Session{
		id:     uuid.NewString(),
		store:  st,
		exam:   e,
		cfg:    cfg,
		marked: map[int]bool{},
	}
}

// Open looks an exam up by access code and prepares a session for it.
func Open(st exam.Store, code string, opts ...Option) (*Session, error) {
	e, ok := st.GetExamByCode(code)
	if !ok {
		return nil, exam.NewNotFound("no exam with code %q", code)
	}
	return New(st, e, opts...), nil
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Exam() exam.Exam { return s.exam }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start admits the principal in ctx (see Admit), shuffles the questions and
// starts the clock. A refused entry is returned as a *Rejection.
func (s *Session) Start(ctx context.Context, password string) error {
	now := s.cfg.clock.Now()
	p, err := Admit(ctx, s.store, s.exam, password, now)
	if err != nil {
		glog.V(1).Infof("session %s: %v", s.id, err)
		return err
	}
	student, ok := s.store.FindUser(p.Username)
	if !ok {
		return exam.NewNotFound("user %q not found", p.Username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Intro {
		return errors.Errorf("session %s is %s, cannot start", s.id, s.state)
	}
	n := len(s.exam.Questions)
	s.order = make([]int, n)
	for i := range s.order {
		s.order[i] = i
	}
	s.cfg.rng.Shuffle(n, func(i, j int) { s.order[i], s.order[j] = s.order[j], s.order[i] })
	s.answers = make([][]int, n)
	for i := range s.answers {
		s.answers[i] = []int{}
	}
	s.student = student
	s.current = 0
	s.startedAt = now
	s.endTime = now.Add(time.Duration(s.exam.DurationSeconds) * time.Second)
	if s.exam.EnableMonitoring {
		s.mon = newMonitor(s.cfg.maxViolations, s.cfg.cooldown, now.Add(s.cfg.grace))
	}
	s.state = InProgress
	glog.Infof("session %s: %s started exam %s (%d questions, %ds, monitoring=%v)",
		s.id, p.Username, s.exam.ExamID, n, s.exam.DurationSeconds, s.exam.EnableMonitoring)
	return nil
}

// Order returns the display-to-real permutation.
func (s *Session) Order() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...)
}

// Len is the number of questions.
func (s *Session) Len() int { return len(s.exam.Questions) }

// Current is the display index of the question on screen.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentQuestion returns the question on screen; ok is false before Start.
func (s *Session) CurrentQuestion() (q exam.Question, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return exam.Question{}, false
	}
	return s.exam.Questions[s.order[s.current]], true
}

// QuestionAt returns the question shown at display position i.
func (s *Session) QuestionAt(i int) (exam.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validDisplay(i) {
		return exam.Question{}, false
	}
	return s.exam.Questions[s.order[i]], true
}

func (s *Session) validDisplay(i int) bool { return i >= 0 && i < len(s.order) }

// Answer replaces the selection for display position i. Outside InProgress
// it does nothing.
func (s *Session) Answer(i int, selection []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress || s.submitting {
		return nil
	}
	if !s.validDisplay(i) {
		return exam.NewInvalid("no question at position %d", i)
	}
	sel := grading.SortedSet(selection)
	for _, o := range sel {
		if o < 0 || o >= exam.OptionsPerQuestion {
			return exam.NewInvalid("option %d out of range", o)
		}
	}
	ri := s.order[i]
	if !s.exam.Questions[ri].MultiSelect() && len(sel) > 1 {
		return exam.NewInvalid("question %d takes a single answer", i+1)
	}
	s.answers[ri] = sel
	glog.V(2).Infof("session %s: answer q%d (real %d) = %v", s.id, i, ri, sel)
	return nil
}

// Selection is the stored answer for display position i.
func (s *Session) Selection(i int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validDisplay(i) {
		return nil
	}
	return append([]int{}, s.answers[s.order[i]]...)
}

// ToggleMark flips the review mark on display position i and returns the
// new value. Marks belong to positions, not to questions.
func (s *Session) ToggleMark(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress || !s.validDisplay(i) {
		return s.marked[i]
	}
	if s.marked[i] {
		delete(s.marked, i)
		return false
	}
	s.marked[i] = true
	return true
}

func (s *Session) IsMarked(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marked[i]
}

func (s *Session) HasAnswer(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validDisplay(i) && len(s.answers[s.order[i]]) > 0
}

func (s *Session) Navigate(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validDisplay(i) {
		return exam.NewInvalid("no question at position %d", i)
	}
	s.current = i
	return nil
}

// Next moves forward one position; false at the last question.
func (s *Session) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current+1 >= len(s.order) {
		return false
	}
	s.current++
	return true
}

// Prev moves back one position; false at the first question.
func (s *Session) Prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == 0 {
		return false
	}
	s.current--
	return true
}

// Status is the navigator state of display position i. A mark wins over an
// answer, which wins over being current.
func (s *Session) Status(i int) QuestionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.marked[i]:
		return StatusMarked
	case s.validDisplay(i) && len(s.answers[s.order[i]]) > 0:
		return StatusAnswered
	case i == s.current:
		return StatusCurrent
	default:
		return StatusUnanswered
	}
}

// Progress counts answered questions.
func (s *Session) Progress() (answered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.answers {
		if len(a) > 0 {
			answered++
		}
	}
	return answered, len(s.exam.Questions)
}

// RemainingSeconds is the countdown shown to the student, never negative.
func (s *Session) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(s.cfg.clock.Now())
}

func (s *Session) remainingLocked(now time.Time) int {
	switch s.state {
	case Intro:
		return s.exam.DurationSeconds
	case InProgress:
		left := int(s.endTime.Sub(now) / time.Second)
		if left < 0 {
			return 0
		}
		return left
	default:
		return 0
	}
}

// Tick advances the countdown. Once the deadline is reached it submits with
// ReasonTimeout; later ticks are no-ops.
func (s *Session) Tick() int {
	now := s.cfg.clock.Now()
	s.mu.Lock()
	due := s.state == InProgress && !s.submitting && !now.Before(s.endTime)
	left := s.remainingLocked(now)
	s.mu.Unlock()
	if !due {
		glog.V(3).Infof("session %s: tick, %ds left", s.id, left)
		return left
	}
	glog.Infof("session %s: time is up", s.id)
	if _, _, err := s.Submit(ReasonTimeout); err != nil {
		glog.Errorf("session %s: auto-submit on timeout failed: %v", s.id, err)
	}
	return 0
}

// Violation is the outcome of one ReportViolation call.
type Violation struct {
	Counted   bool
	Count     int
	Max       int
	Submitted bool // the limit was reached and the attempt stored
}

// ReportViolation records a loss of focus. While a warning is on screen or
// cooling down, or during the grace period after Start, nothing is counted.
// Reaching the limit submits with ReasonCheating.
func (s *Session) ReportViolation() Violation {
	now := s.cfg.clock.Now()
	s.mu.Lock()
	if s.mon == nil || s.state != InProgress || s.submitting {
		s.mu.Unlock()
		return Violation{}
	}
	counted, reached := s.mon.report(now)
	v := Violation{Counted: counted, Count: s.mon.count, Max: s.mon.max}
	s.mu.Unlock()

	if !counted {
		glog.V(2).Infof("session %s: focus loss ignored", s.id)
		return v
	}
	glog.Warningf("session %s: violation %d/%d", s.id, v.Count, v.Max)
	if reached {
		_, submitted, err := s.Submit(ReasonCheating)
		if err != nil {
			glog.Errorf("session %s: auto-submit on violations failed: %v", s.id, err)
		}
		v.Submitted = submitted
	}
	return v
}

// AcknowledgeViolation must be called by the UI when the student dismisses
// the warning. The cool-down starts here; until then the session stays in
// the alert state and no further violation is counted.
func (s *Session) AcknowledgeViolation() {
	now := s.cfg.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mon != nil {
		s.mon.acknowledge(now)
	}
}

// Violations is the number of counted violations so far.
func (s *Session) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mon == nil {
		return 0
	}
	return s.mon.count
}

// Submit scores and stores the attempt. Only the first call that finds the
// session InProgress stores anything; every other call returns the stored
// attempt (or a zero one) with submitted=false. If the store fails the
// session stays InProgress so the submit can be retried.
func (s *Session) Submit(reason Reason) (a exam.Attempt, submitted bool, err error) {
	now := s.cfg.clock.Now()
	s.mu.Lock()
	if s.state != InProgress || s.submitting {
		a = s.attempt
		s.mu.Unlock()
		return a, false, nil
	}
	s.submitting = true
	answers := make([][]int, len(s.answers))
	for i, sel := range s.answers {
		answers[i] = append([]int{}, sel...)
	}
	student, startedAt := s.student, s.startedAt
	s.mu.Unlock()

	sum := grading.Summarize(s.exam.GradingKey(), answers)
	taken := int(now.Sub(startedAt) / time.Second)
	if taken < 0 {
		taken = 0
	}
	a = exam.Attempt{
		AttemptID:        s.store.NewAttemptID(),
		ExamID:           s.exam.ExamID,
		Code:             s.exam.AccessCode,
		Title:            s.exam.Title,
		Username:         student.Username,
		FullName:         student.FullName,
		StudentID:        student.StudentID,
		Score:            sum.Score,
		Total:            sum.Total,
		StartedAt:        epochSeconds(startedAt),
		SubmittedAt:      epochSeconds(now),
		TimeTakenSeconds: taken,
		Answers:          answers,
	}
	err = s.store.AddAttempt(a)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return exam.Attempt{}, false, errors.Wrapf(err, "store attempt for session %s", s.id)
	}
	s.state = Submitted
	s.reason = reason
	s.attempt = a
	s.mu.Unlock()

	glog.Infof("session %s: submitted (%s) attempt %s score %.2f/%d", s.id, reason, a.AttemptID, a.Score, a.Total)
	if s.cfg.onSubmit != nil {
		s.cfg.onSubmit(s.id, a, reason)
	}
	return a, true, nil
}

// Abandon ends an unsubmitted session without storing anything. It is a
// no-op once a submit has begun.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting || (s.state != InProgress && s.state != Intro) {
		return false
	}
	s.state = Abandoned
	glog.Infof("session %s: abandoned", s.id)
	return true
}

// SubmitReason is why the session was submitted; empty until then.
func (s *Session) SubmitReason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Result summarizes the stored attempt; ok is false before submission.
func (s *Session) Result() (sum grading.Summary, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Submitted {
		return grading.Summary{}, false
	}
	return exam.Summarize(s.exam, s.attempt), true
}

// Review is the per-question breakdown, available after submission when
// the exam allows review.
func (s *Session) Review() ([]grading.QuestionReview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Submitted || !s.exam.AllowReview {
		return nil, false
	}
	return exam.Review(s.exam, s.attempt), true
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
