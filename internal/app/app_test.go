package app

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mind-engage/mindengage-quiz/internal/audit"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		DataFile:           filepath.Join(dir, "quiz.json"),
		AuditDriver:        "sqlite",
		AuditDSN:           "file:" + filepath.Join(dir, "audit.db") + "?mode=rwc",
		SiteID:             "test",
		AccessCodeLength:   6,
		MaxViolations:      2,
		ViolationCooldown:  time.Second,
		MonitorGrace:       0,
		HashPasswords:      true,
		BcryptCost:         4,
		TempPasswordLength: 10,
	}
}

// A teacher publishes, a student takes the exam and trips the proctor;
// the journal sees every step.
func TestApp_EndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	teacher, err := a.Accounts.Login("teacher", "teacher")
	if err != nil {
		t.Fatalf("teacher login: %v", err)
	}
	tctx := teacher.Context(ctx)
	tpl, err := a.Exams.SaveTemplate(tctx, exam.Template{Title: "Quiz", Questions: []exam.Question{
		{Text: "1+1", Options: []string{"1", "2", "3", "4"}, CorrectIndices: []int{1}},
		{Text: "evens", Options: []string{"2", "3", "4", "5"}, CorrectIndices: []int{0, 2}},
	}})
	if err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	now := time.Now()
	e, err := a.Exams.Publish(tctx, tpl.TemplateID, exam.PublishOptions{
		DurationMinutes: 10, EnableMonitoring: true,
		StartTS: now.Add(-time.Hour).Unix(), EndTS: now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(e.AccessCode) != 6 {
		t.Fatalf("configured code length ignored: %q", e.AccessCode)
	}

	student, err := a.Accounts.Login("student", "student")
	if err != nil {
		t.Fatalf("student login: %v", err)
	}
	fc := clocktesting.NewFakeClock(now)
	s, err := a.OpenSession(e.AccessCode, session.WithClock(fc), session.WithRand(rand.New(rand.NewSource(3))))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := s.Start(student.Context(ctx), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.ReportViolation()
	s.AcknowledgeViolation()
	fc.Step(time.Second)
	if v := s.ReportViolation(); !v.Submitted {
		t.Fatalf("second violation should submit with MaxViolations=2, got %+v", v)
	}

	events, err := a.Journal.List(ctx, audit.TypeAttemptSubmitted, 0)
	if err != nil || len(events) != 1 || events[0].Data["reason"] != string(session.ReasonCheating) {
		t.Fatalf("journal = %+v, %v", events, err)
	}
	if published, _ := a.Journal.List(ctx, audit.TypeExamPublished, 0); len(published) != 1 {
		t.Fatalf("publish not journaled")
	}
}

func TestApp_WithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditDriver = "none"
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.Journal != nil {
		t.Fatalf("journal opened with driver none")
	}
	if len(a.Store.ListUsers()) != 3 {
		t.Fatalf("store not seeded")
	}
}
