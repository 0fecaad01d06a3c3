package exam

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_SeedsWhenMissing(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)

	if b.saveCount() != 1 {
		t.Fatalf("seeding should write the file once, saves=%d", b.saveCount())
	}
	want := map[string]Role{"admin": RoleAdmin, "teacher": RoleTeacher, "student": RoleStudent}
	for name, role := range want {
		u, ok := s.FindUser(name)
		if !ok || u.Password != name || u.Role != role {
			t.Fatalf("seeded %s = %+v, ok=%v", name, u, ok)
		}
	}
	if u, _ := s.FindUser("student"); u.StudentID != "SV001" {
		t.Fatalf("seeded student id = %q", u.StudentID)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b.data, &top); err != nil {
		t.Fatalf("written file is not JSON: %v", err)
	}
	for _, c := range collections {
		if _, ok := top[c]; !ok {
			t.Fatalf("written file lacks %q", c)
		}
	}
}

func TestLoad_UnparsableIsQuarantinedAndReseeded(t *testing.T) {
	b := withContents("{not json")
	s := newTestStore(t, b, WithClock(fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))))

	if got := b.quarantined["corrupt-20240501090000"]; string(got) != "{not json" {
		t.Fatalf("old contents not kept aside: %q", got)
	}
	if len(s.ListUsers()) != 3 {
		t.Fatalf("expected 3 seeded users, got %d", len(s.ListUsers()))
	}
}

func TestLoad_MistypedNestedValueIsMigratedNotReseeded(t *testing.T) {
	b := withContents(`{"users":[{"username":"bob","password":"pw","role":"student"}],"templates":[],"exams":[],
"attempts":[{"attempt_id":"AT1","exam_id":"EX1","username":"bob","answers":[[1],["2"]]}]}`)
	s := newTestStore(t, b)

	if len(b.quarantined) != 0 {
		t.Fatalf("parsable document was quarantined")
	}
	if _, ok := s.FindUser("bob"); !ok {
		t.Fatalf("existing user lost")
	}
	if _, ok := s.FindUser(RootAdmin); ok {
		t.Fatalf("document was reseeded")
	}
	got := s.ListAttemptsByUser("bob")
	if len(got) != 1 || !reflect.DeepEqual(got[0].Answers, [][]int{{1}, {2}}) {
		t.Fatalf("attempts = %+v", got)
	}
}

func TestLoad_NonObjectBecomesEmptyDocument(t *testing.T) {
	b := withContents(`[1, 2, 3]`)
	s := newTestStore(t, b)
	if n := len(s.ListUsers()); n != 0 {
		t.Fatalf("non-object top level should load as empty, got %d users", n)
	}
	if b.saveCount() != 1 {
		t.Fatalf("normalized document should be written back")
	}
}

func TestLoad_CleanFileIsNotRewritten(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	if err := s.AddTemplate(Template{TemplateID: "TP1", Title: "Math", CreatedBy: "teacher", Questions: sampleQuestions()}); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	before := b.saveCount()
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.saveCount() != before {
		t.Fatalf("reloading a current file should not save")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	tpl := Template{TemplateID: "TP1", Title: "Math", CreatedBy: "teacher", Questions: sampleQuestions()}
	if err := s.AddTemplate(tpl); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	e := Exam{ExamID: "EX1", TemplateID: "TP1", Title: "Math", CreatedBy: "teacher", AccessCode: "abc123",
		DurationSeconds: 600, StartTS: 100, EndTS: 200, Questions: sampleQuestions()}
	if err := s.AddExam(e); err != nil {
		t.Fatalf("AddExam: %v", err)
	}
	a := Attempt{AttemptID: "AT1", ExamID: "EX1", Username: "student", Score: 1.5, Total: 2,
		StartedAt: 100.5, SubmittedAt: 150.25, TimeTakenSeconds: 50, Answers: [][]int{{1}, {0}}}
	if err := s.AddAttempt(a); err != nil {
		t.Fatalf("AddAttempt: %v", err)
	}

	before := s.Snapshot()
	reloaded := newTestStore(t, withContents(string(b.data)))
	if after := reloaded.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip changed the document:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestAddUser_RejectsDuplicateAndBlank(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	if err := s.AddUser(User{Username: "teacher", Role: RoleTeacher}); !IsAlreadyExists(err) {
		t.Fatalf("duplicate username: got %v", err)
	}
	if err := s.AddUser(User{Username: "   "}); !IsInvalid(err) {
		t.Fatalf("blank username: got %v", err)
	}
	if err := s.AddUser(User{Username: " bob ", Role: "TEACHER"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if u, ok := s.FindUser("bob"); !ok || u.Role != RoleTeacher {
		t.Fatalf("bob = %+v ok=%v", u, ok)
	}
}

func TestUserUpdatesAndDelete(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	if err := s.UpdatePassword("student", "Secret123"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := s.SetMustChangePassword("student", true); err != nil {
		t.Fatalf("SetMustChangePassword: %v", err)
	}
	if err := s.UpdateProfile("student", "Student Two", "2006-02-03", "SV002"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	u, _ := s.FindUser("student")
	if u.Password != "Secret123" || !u.MustChangePassword || u.FullName != "Student Two" || u.StudentID != "SV002" {
		t.Fatalf("student after updates = %+v", u)
	}
	if err := s.UpdatePassword("ghost", "x"); !IsNotFound(err) {
		t.Fatalf("unknown user: got %v", err)
	}
	if err := s.DeleteUser(RootAdmin); !IsProtected(err) {
		t.Fatalf("deleting root admin: got %v", err)
	}
	if err := s.DeleteUser("teacher"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := s.FindUser("teacher"); ok {
		t.Fatalf("teacher still present")
	}
}

func TestSetPassword_WritesBothFieldsOrNeither(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)

	b.setFailSave(true)
	if err := s.SetPassword("student", "Temp1234", true); err == nil {
		t.Fatalf("expected save failure")
	}
	if u, _ := s.FindUser("student"); u.Password != "student" || u.MustChangePassword {
		t.Fatalf("failed write left a partial change: %+v", u)
	}

	b.setFailSave(false)
	before := b.saveCount()
	if err := s.SetPassword("student", "Temp1234", true); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if b.saveCount() != before+1 {
		t.Fatalf("password and flag should be one write, got %d", b.saveCount()-before)
	}
	if u, _ := s.FindUser("student"); u.Password != "Temp1234" || !u.MustChangePassword {
		t.Fatalf("student = %+v", u)
	}
}

func TestMutationRollsBackWhenSaveFails(t *testing.T) {
	b := newMemBackend()
	s := newTestStore(t, b)
	b.setFailSave(true)
	if err := s.AddUser(User{Username: "bob"}); err == nil {
		t.Fatalf("expected save error")
	}
	if _, ok := s.FindUser("bob"); ok {
		t.Fatalf("failed AddUser left bob in memory")
	}
	if err := s.DeleteUser("teacher"); err == nil {
		t.Fatalf("expected save error")
	}
	if _, ok := s.FindUser("teacher"); !ok {
		t.Fatalf("failed DeleteUser removed teacher from memory")
	}
}

func TestTimestampIDs_StepPastTaken(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := newTestStore(t, newMemBackend(), WithClock(fixedClock(now)))

	id := s.NewTemplateID()
	if id != "TP1700000000000" {
		t.Fatalf("template id = %q", id)
	}
	if err := s.AddTemplate(Template{TemplateID: id, Title: "A", Questions: sampleQuestions()}); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if next := s.NewTemplateID(); next != "TP1700000000001" {
		t.Fatalf("second id in the same millisecond = %q", next)
	}
	if ex := s.NewExamID(); ex != "EX1700000000000" {
		t.Fatalf("exam id = %q", ex)
	}
	at := s.NewAttemptID()
	if !strings.HasPrefix(at, "AT1700000000000") || len(at) <= len("AT1700000000000") {
		t.Fatalf("attempt id = %q", at)
	}
}

func TestNewAttemptID_FixedWidth(t *testing.T) {
	s := newTestStore(t, newMemBackend(), WithClock(fixedClock(time.UnixMilli(1700000000000))))
	for i := 0; i < 200; i++ {
		id := s.NewAttemptID()
		if len(id) != len("AT1700000000000000") || !strings.HasPrefix(id, "AT1700000000000") {
			t.Fatalf("attempt id %q is not fixed width", id)
		}
	}
}

func TestNewUniqueCode_AvoidsExistingCodes(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	seen := map[string]bool{}
	for i := 0; i < 40; i++ {
		code := s.NewUniqueCode(2)
		if len(code) != 2 || !codeFormat.MatchString(code) {
			t.Fatalf("bad code %q", code)
		}
		if seen[code] {
			t.Fatalf("code %q handed out twice", code)
		}
		seen[code] = true
		e := Exam{ExamID: s.NewExamID() + code, AccessCode: strings.ToLower(code), DurationSeconds: 60,
			StartTS: 0, EndTS: 1, Questions: sampleQuestions()}
		if err := s.AddExam(e); err != nil {
			t.Fatalf("AddExam(%s): %v", code, err)
		}
	}
	if got := len(s.NewUniqueCode(0)); got != DefaultCodeLength {
		t.Fatalf("default code length = %d", got)
	}
}

func TestExams_CodeLookupAndValidation(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	e := Exam{ExamID: "EX1", AccessCode: "ab12cd34", DurationSeconds: 60, StartTS: 10, EndTS: 20, Questions: sampleQuestions(), CreatedBy: "teacher"}
	if err := s.AddExam(e); err != nil {
		t.Fatalf("AddExam: %v", err)
	}
	got, ok := s.GetExamByCode("  Ab12Cd34 ")
	if !ok || got.ExamID != "EX1" || got.AccessCode != "AB12CD34" {
		t.Fatalf("GetExamByCode = %+v ok=%v", got, ok)
	}
	dup := e
	dup.ExamID = "EX2"
	dup.AccessCode = "AB12CD34"
	if err := s.AddExam(dup); !IsAlreadyExists(err) {
		t.Fatalf("duplicate code: got %v", err)
	}

	bad := []Exam{
		{ExamID: "EX3", AccessCode: "AB-1", DurationSeconds: 60, StartTS: 0, EndTS: 1, Questions: sampleQuestions()},
		{ExamID: "EX3", AccessCode: "AB1", DurationSeconds: 0, StartTS: 0, EndTS: 1, Questions: sampleQuestions()},
		{ExamID: "EX3", AccessCode: "AB1", DurationSeconds: 60, StartTS: 5, EndTS: 5, Questions: sampleQuestions()},
		{ExamID: "EX3", AccessCode: "AB1", DurationSeconds: 60, StartTS: 0, EndTS: 1},
		{ExamID: "EX3", AccessCode: "AB1", DurationSeconds: 60, StartTS: 0, EndTS: 1,
			Questions: []Question{{Text: "q", Options: []string{"a", "b", "c", "d"}, CorrectIndices: []int{4}}}},
	}
	for i, e := range bad {
		if err := s.AddExam(e); !IsInvalid(err) {
			t.Fatalf("bad exam %d: got %v", i, err)
		}
	}

	if n := len(s.ListExamsByTeacher("teacher")); n != 1 {
		t.Fatalf("ListExamsByTeacher = %d", n)
	}
	if err := s.DeleteExam("EX1"); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	if _, ok := s.GetExamByCode("AB12CD34"); ok {
		t.Fatalf("deleted exam still found by code")
	}
	if err := s.DeleteExam("EX1"); !IsNotFound(err) {
		t.Fatalf("second delete: got %v", err)
	}
}

func TestTemplates_CRUD(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	tpl := Template{TemplateID: "TP1", Title: "Math", CreatedBy: "teacher", Questions: sampleQuestions()}
	if err := s.AddTemplate(tpl); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if err := s.AddTemplate(tpl); !IsAlreadyExists(err) {
		t.Fatalf("duplicate template: got %v", err)
	}

	got, _ := s.GetTemplate("TP1")
	got.Questions[0].Text = "mutated"
	if again, _ := s.GetTemplate("TP1"); again.Questions[0].Text == "mutated" {
		t.Fatalf("GetTemplate leaked internal state")
	}

	tpl.Title = "Algebra"
	if err := s.UpdateTemplate(tpl); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if got, _ := s.GetTemplate("TP1"); got.Title != "Algebra" {
		t.Fatalf("title = %q", got.Title)
	}
	if n := len(s.ListTemplatesByTeacher("someone")); n != 0 {
		t.Fatalf("ListTemplatesByTeacher(someone) = %d", n)
	}
	if err := s.DeleteTemplate("TP1"); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if len(s.ListTemplates()) != 0 {
		t.Fatalf("template not deleted")
	}
}

func TestAttempts_QueriesAndCascade(t *testing.T) {
	s := newTestStore(t, newMemBackend())
	add := func(id, exam, user string, submitted float64) {
		t.Helper()
		a := Attempt{AttemptID: id, ExamID: exam, Username: user, Total: 1, Score: 1, SubmittedAt: submitted, Answers: [][]int{{0}}}
		if err := s.AddAttempt(a); err != nil {
			t.Fatalf("AddAttempt(%s): %v", id, err)
		}
	}
	add("AT1", "EX1", "student", 10)
	add("AT2", "EX1", "student", 30)
	add("AT3", "EX2", "student", 20)
	add("AT4", "EX1", "other", 40)

	byUser := s.ListAttemptsByUser("student")
	if len(byUser) != 3 || byUser[0].AttemptID != "AT2" || byUser[2].AttemptID != "AT1" {
		t.Fatalf("ListAttemptsByUser order = %+v", byUser)
	}
	if n := s.CountAttempts("student", "EX1"); n != 2 {
		t.Fatalf("CountAttempts = %d", n)
	}
	if err := s.AddAttempt(Attempt{AttemptID: "AT9", ExamID: "EX1", Total: 2, Answers: [][]int{{0}}}); !IsInvalid(err) {
		t.Fatalf("answers/total mismatch: got %v", err)
	}

	n, err := s.DeleteAttemptsForExam("EX1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteAttemptsForExam = %d, %v", n, err)
	}
	if left := s.ListAttemptsByExam("EX1"); len(left) != 0 {
		t.Fatalf("attempts left for EX1: %d", len(left))
	}
	if _, ok := s.GetAttempt("AT3"); !ok {
		t.Fatalf("attempt of another exam was removed")
	}
	if n, err := s.DeleteAttemptsForExam("EX1"); n != 0 || err != nil {
		t.Fatalf("empty delete = %d, %v", n, err)
	}
}
