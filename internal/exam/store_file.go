package exam

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/storage"
)

// RootAdmin is the seeded administrator; it can never be deleted.
const RootAdmin = "admin"

// DefaultCodeLength is the access code length used when none is given.
const DefaultCodeLength = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codeFormat = regexp.MustCompile(`^[A-Z0-9]+$`)

// FileStore keeps the whole Document in memory and rewrites the backing
// file on every mutation. It assumes a single process owns the file.
type FileStore struct {
	mu      sync.RWMutex
	backend storage.Backend
	doc     Document
	now     func() time.Time
}

type Option func(*FileStore)

// WithClock replaces time.Now for ID generation.
func WithClock(now func() time.Time) Option { return func(s *FileStore) { s.now = now } }

// NewFileStore loads (seeding or migrating as needed) the document held by backend.
func NewFileStore(backend storage.Backend, opts ...Option) (*FileStore, error) {
	s := &FileStore{backend: backend, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenFile is NewFileStore over a local file.
func OpenFile(path string, opts ...Option) (*FileStore, error) {
	fs, err := storage.NewFSStore(path)
	if err != nil {
		return nil, err
	}
	return NewFileStore(fs, opts...)
}

// Load replaces the in-memory document with the backing one. A missing or
// unreadable file is replaced by the default accounts; only I/O failures
// are returned.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.backend.Load()
	if errors.Is(err, storage.ErrNotExist) {
		glog.Infof("no data file yet, seeding default accounts")
		s.doc = seedDocument()
		return s.saveLocked()
	}
	if err != nil {
		return err
	}

	doc, changed, err := decodeDocument(raw)
	if isCorrupt(err) {
		moved, qerr := s.backend.Quarantine("corrupt-" + s.now().Format("20060102150405"))
		if qerr != nil {
			glog.Errorf("could not set aside unreadable data file: %v", qerr)
		}
		glog.Warningf("%v; reseeding default accounts (old contents kept at %q)", err, moved)
		s.doc = seedDocument()
		return s.saveLocked()
	}
	if err != nil {
		return err
	}
	s.doc = doc
	if changed {
		glog.Infof("migrated data file: %d users, %d templates, %d exams, %d attempts",
			len(doc.Users), len(doc.Templates), len(doc.Exams), len(doc.Attempts))
		return s.saveLocked()
	}
	return nil
}

// Save writes the current document.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Reset discards everything and reseeds the default accounts.
func (s *FileStore) Reset() error {
	return s.mutate(func(d *Document) error {
		*d = seedDocument()
		return nil
	})
}

// Snapshot returns a copy of the whole document.
func (s *FileStore) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.doc.clone()
	for i := range d.Templates {
		d.Templates[i] = copyTemplate(d.Templates[i])
	}
	for i := range d.Exams {
		d.Exams[i] = copyExam(d.Exams[i])
	}
	for i := range d.Attempts {
		d.Attempts[i] = copyAttempt(d.Attempts[i])
	}
	return d
}

func (s *FileStore) saveLocked() error {
	s.doc.normalize()
	buf, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	return s.backend.Save(buf)
}

// mutate applies fn and persists the result; on any failure the previous
// document is restored.
func (s *FileStore) mutate(fn func(d *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.doc.clone()
	if err := fn(&s.doc); err != nil {
		s.doc = prev
		return err
	}
	if err := s.saveLocked(); err != nil {
		s.doc = prev
		glog.Errorf("save failed, change rolled back: %v", err)
		return err
	}
	return nil
}

func seedDocument() Document {
	d := Document{
		Users: []User{
			{Username: RootAdmin, Password: "admin", Role: RoleAdmin},
			{Username: "teacher", Password: "teacher", Role: RoleTeacher, FullName: "Teacher One", DOB: "1990-01-01"},
			{Username: "student", Password: "student", Role: RoleStudent, FullName: "Student One", DOB: "2005-01-01", StudentID: "SV001"},
		},
	}
	d.normalize()
	return d
}

// ---- Users ----

func (s *FileStore) FindUser(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.userIndex(username); i >= 0 {
		return s.doc.Users[i], true
	}
	return User{}, false
}

func (s *FileStore) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.doc.Users...)
}

func (s *FileStore) AddUser(u User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return NewInvalid("username is required")
	}
	u.Role = CanonicalRole(string(u.Role))
	return s.mutate(func(d *Document) error {
		if s.userIndex(u.Username) >= 0 {
			return NewAlreadyExists("user %q already exists", u.Username)
		}
		d.Users = append(d.Users, u)
		return nil
	})
}

func (s *FileStore) UpdatePassword(username, password string) error {
	return s.updateUser(username, func(u *User) { u.Password = password })
}

func (s *FileStore) SetMustChangePassword(username string, v bool) error {
	return s.updateUser(username, func(u *User) { u.MustChangePassword = v })
}

func (s *FileStore) SetPassword(username, password string, mustChange bool) error {
	return s.updateUser(username, func(u *User) {
		u.Password = password
		u.MustChangePassword = mustChange
	})
}

func (s *FileStore) UpdateProfile(username, fullName, dob, studentID string) error {
	return s.updateUser(username, func(u *User) {
		u.FullName = fullName
		u.DOB = dob
		u.StudentID = studentID
	})
}

func (s *FileStore) DeleteUser(username string) error {
	if username == RootAdmin {
		return NewProtected("the root %q account cannot be deleted", RootAdmin)
	}
	return s.mutate(func(d *Document) error {
		i := s.userIndex(username)
		if i < 0 {
			return NewNotFound("user %q not found", username)
		}
		d.Users = append(d.Users[:i], d.Users[i+1:]...)
		return nil
	})
}

func (s *FileStore) updateUser(username string, fn func(u *User)) error {
	return s.mutate(func(d *Document) error {
		i := s.userIndex(username)
		if i < 0 {
			return NewNotFound("user %q not found", username)
		}
		fn(&d.Users[i])
		return nil
	})
}

func (s *FileStore) userIndex(username string) int {
	for i, u := range s.doc.Users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

// ---- IDs and codes ----

func (s *FileStore) NewTemplateID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestampID("TP", func(id string) bool { return s.templateIndex(id) >= 0 })
}

func (s *FileStore) NewExamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestampID("EX", func(id string) bool { return s.examIndex(id) >= 0 })
}

// NewAttemptID mixes a random suffix into the millisecond stamp so two
// submissions in the same millisecond do not collide.
func (s *FileStore) NewAttemptID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for {
		id := fmt.Sprintf("AT%d%03d", s.now().UnixMilli(), randIntn(1000))
		if s.attemptIndex(id) < 0 {
			return id
		}
	}
}

// timestampID derives prefix+milliseconds, stepping forward past IDs that
// are already taken.
func (s *FileStore) timestampID(prefix string, taken func(string) bool) string {
	ms := s.now().UnixMilli()
	for {
		id := fmt.Sprintf("%s%d", prefix, ms)
		if !taken(id) {
			return id
		}
		ms++
	}
}

// NewUniqueCode draws [A-Z0-9]{length} until it misses every existing
// access code, compared case-insensitively.
func (s *FileStore) NewUniqueCode(length int) string {
	if length <= 0 {
		length = DefaultCodeLength
	}
	s.mu.RLock()
	existing := make(map[string]struct{}, len(s.doc.Exams))
	for _, e := range s.doc.Exams {
		if e.AccessCode != "" {
			existing[strings.ToUpper(e.AccessCode)] = struct{}{}
		}
	}
	s.mu.RUnlock()

	buf := make([]byte, length)
	for {
		for i := range buf {
			buf[i] = codeAlphabet[randIntn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, dup := existing[code]; !dup {
			return code
		}
		glog.V(2).Infof("access code collision, drawing again")
	}
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(errors.Wrap(err, "crypto/rand unavailable"))
	}
	return int(v.Int64())
}

// ---- Templates ----

func (s *FileStore) AddTemplate(t Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	t = copyTemplate(t)
	return s.mutate(func(d *Document) error {
		if s.templateIndex(t.TemplateID) >= 0 {
			return NewAlreadyExists("template %q already exists", t.TemplateID)
		}
		d.Templates = append(d.Templates, t)
		return nil
	})
}

func (s *FileStore) UpdateTemplate(t Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	t = copyTemplate(t)
	return s.mutate(func(d *Document) error {
		i := s.templateIndex(t.TemplateID)
		if i < 0 {
			return NewNotFound("template %q not found", t.TemplateID)
		}
		d.Templates[i] = t
		return nil
	})
}

func (s *FileStore) GetTemplate(id string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.templateIndex(id); i >= 0 {
		return copyTemplate(s.doc.Templates[i]), true
	}
	return Template{}, false
}

func (s *FileStore) ListTemplates() []Template {
	return s.filterTemplates(func(Template) bool { return true })
}

func (s *FileStore) ListTemplatesByTeacher(teacher string) []Template {
	return s.filterTemplates(func(t Template) bool { return t.CreatedBy == teacher })
}

// DeleteTemplate removes a template. Exams published from it keep their
// frozen questions; callers wanting a warning check HasExamFromTemplate first.
func (s *FileStore) DeleteTemplate(id string) error {
	return s.mutate(func(d *Document) error {
		i := s.templateIndex(id)
		if i < 0 {
			return NewNotFound("template %q not found", id)
		}
		d.Templates = append(d.Templates[:i], d.Templates[i+1:]...)
		return nil
	})
}

func (s *FileStore) HasExamFromTemplate(templateID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.doc.Exams {
		if e.TemplateID == templateID {
			return true
		}
	}
	return false
}

func (s *FileStore) filterTemplates(keep func(Template) bool) []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Template, 0, len(s.doc.Templates))
	for _, t := range s.doc.Templates {
		if keep(t) {
			out = append(out, copyTemplate(t))
		}
	}
	return out
}

func (s *FileStore) templateIndex(id string) int {
	for i, t := range s.doc.Templates {
		if t.TemplateID == id {
			return i
		}
	}
	return -1
}

func validateTemplate(t Template) error {
	if strings.TrimSpace(t.TemplateID) == "" {
		return NewInvalid("template_id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return NewInvalid("template title is required")
	}
	return ValidateQuestions(t.Questions)
}

// ---- Exams ----

func (s *FileStore) AddExam(e Exam) error {
	e.AccessCode = strings.ToUpper(strings.TrimSpace(e.AccessCode))
	if err := validateExam(e); err != nil {
		return err
	}
	e = copyExam(e)
	return s.mutate(func(d *Document) error {
		if s.examIndex(e.ExamID) >= 0 {
			return NewAlreadyExists("exam %q already exists", e.ExamID)
		}
		if s.codeIndex(e.AccessCode) >= 0 {
			return NewAlreadyExists("access code %q is already in use", e.AccessCode)
		}
		d.Exams = append(d.Exams, e)
		return nil
	})
}

func (s *FileStore) GetExam(id string) (Exam, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.examIndex(id); i >= 0 {
		return copyExam(s.doc.Exams[i]), true
	}
	return Exam{}, false
}

// GetExamByCode looks an exam up by access code, ignoring case and
// surrounding whitespace.
func (s *FileStore) GetExamByCode(code string) (Exam, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Exam{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.codeIndex(code); i >= 0 {
		return copyExam(s.doc.Exams[i]), true
	}
	return Exam{}, false
}

func (s *FileStore) ListExams() []Exam {
	return s.filterExams(func(Exam) bool { return true })
}

func (s *FileStore) ListExamsByTeacher(teacher string) []Exam {
	return s.filterExams(func(e Exam) bool { return e.CreatedBy == teacher })
}

// DeleteExam removes the exam only; its attempts stay until
// DeleteAttemptsForExam is called.
func (s *FileStore) DeleteExam(id string) error {
	return s.mutate(func(d *Document) error {
		i := s.examIndex(id)
		if i < 0 {
			return NewNotFound("exam %q not found", id)
		}
		d.Exams = append(d.Exams[:i], d.Exams[i+1:]...)
		return nil
	})
}

func (s *FileStore) filterExams(keep func(Exam) bool) []Exam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Exam, 0, len(s.doc.Exams))
	for _, e := range s.doc.Exams {
		if keep(e) {
			out = append(out, copyExam(e))
		}
	}
	return out
}

func (s *FileStore) examIndex(id string) int {
	for i, e := range s.doc.Exams {
		if e.ExamID == id {
			return i
		}
	}
	return -1
}

// codeIndex expects an upper-cased code.
func (s *FileStore) codeIndex(code string) int {
	for i, e := range s.doc.Exams {
		if strings.ToUpper(e.AccessCode) == code {
			return i
		}
	}
	return -1
}

func validateExam(e Exam) error {
	switch {
	case strings.TrimSpace(e.ExamID) == "":
		return NewInvalid("exam_id is required")
	case !codeFormat.MatchString(e.AccessCode):
		return NewInvalid("access code %q must be letters and digits only", e.AccessCode)
	case e.DurationSeconds <= 0:
		return NewInvalid("duration must be positive")
	case e.AttemptLimit < 0:
		return NewInvalid("attempt limit cannot be negative")
	case e.StartTS >= e.EndTS:
		return NewInvalid("exam must close after it opens")
	}
	return ValidateQuestions(e.Questions)
}

// ---- Attempts ----

func (s *FileStore) AddAttempt(a Attempt) error {
	if err := validateAttempt(a); err != nil {
		return err
	}
	a = copyAttempt(a)
	err := s.mutate(func(d *Document) error {
		if s.attemptIndex(a.AttemptID) >= 0 {
			return NewAlreadyExists("attempt %q already exists", a.AttemptID)
		}
		d.Attempts = append(d.Attempts, a)
		return nil
	})
	if err == nil {
		glog.Infof("attempt %s persisted: %s on %s scored %.4f/%d", a.AttemptID, a.Username, a.ExamID, a.Score, a.Total)
	}
	return err
}

func (s *FileStore) GetAttempt(id string) (Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.attemptIndex(id); i >= 0 {
		return copyAttempt(s.doc.Attempts[i]), true
	}
	return Attempt{}, false
}

// ListAttemptsByUser returns the user's attempts, newest submission first.
func (s *FileStore) ListAttemptsByUser(username string) []Attempt {
	return s.filterAttempts(func(a Attempt) bool { return a.Username == username })
}

// ListAttemptsByExam returns the exam's attempts, newest submission first.
func (s *FileStore) ListAttemptsByExam(examID string) []Attempt {
	return s.filterAttempts(func(a Attempt) bool { return a.ExamID == examID })
}

func (s *FileStore) CountAttempts(username, examID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.doc.Attempts {
		if a.Username == username && a.ExamID == examID {
			n++
		}
	}
	return n
}

func (s *FileStore) DeleteAttemptsForExam(examID string) (int, error) {
	deleted := 0
	err := s.mutate(func(d *Document) error {
		kept := make([]Attempt, 0, len(d.Attempts))
		for _, a := range d.Attempts {
			if a.ExamID == examID {
				deleted++
				continue
			}
			kept = append(kept, a)
		}
		if deleted == 0 {
			return errNothingDeleted
		}
		d.Attempts = kept
		return nil
	})
	if errors.Is(err, errNothingDeleted) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// errNothingDeleted short-circuits mutate so an empty delete does not
// rewrite the file.
var errNothingDeleted = errors.New("nothing deleted")

func (s *FileStore) filterAttempts(keep func(Attempt) bool) []Attempt {
	s.mu.RLock()
	out := make([]Attempt, 0)
	for _, a := range s.doc.Attempts {
		if keep(a) {
			out = append(out, copyAttempt(a))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt > out[j].SubmittedAt })
	return out
}

func (s *FileStore) attemptIndex(id string) int {
	for i, a := range s.doc.Attempts {
		if a.AttemptID == id {
			return i
		}
	}
	return -1
}

func validateAttempt(a Attempt) error {
	switch {
	case strings.TrimSpace(a.AttemptID) == "":
		return NewInvalid("attempt_id is required")
	case strings.TrimSpace(a.ExamID) == "":
		return NewInvalid("exam_id is required")
	case len(a.Answers) != a.Total:
		return NewInvalid("attempt has %d answers for %d questions", len(a.Answers), a.Total)
	case a.Score < 0 || a.Score > float64(a.Total):
		return NewInvalid("score %.4f outside [0, %d]", a.Score, a.Total)
	}
	return nil
}

// ---- copies ----

func copyQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = Question{
			Text:           q.Text,
			Options:        append([]string{}, q.Options...),
			CorrectIndices: append([]int{}, q.CorrectIndices...),
		}
	}
	return out
}

func copyTemplate(t Template) Template {
	t.Questions = copyQuestions(t.Questions)
	return t
}

func copyExam(e Exam) Exam {
	e.Questions = copyQuestions(e.Questions)
	return e
}

func copyAttempt(a Attempt) Attempt {
	answers := make([][]int, len(a.Answers))
	for i, sel := range a.Answers {
		answers[i] = append([]int{}, sel...)
	}
	a.Answers = answers
	return a
}
