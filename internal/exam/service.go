package exam

import (
	"context"
	"strings"

	"github.com/golang/glog"

	"github.com/mind-engage/mindengage-quiz/internal/audit"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// Service runs Store operations on behalf of the principal in ctx,
// enforcing role permissions and ownership and journaling what teachers do.
type Service struct {
	store      Store
	journal    audit.Recorder
	codeLength int
}

type ServiceOption func(*Service)

func WithJournal(r audit.Recorder) ServiceOption { return func(s *Service) { s.journal = r } }

func WithCodeLength(n int) ServiceOption { return func(s *Service) { s.codeLength = n } }

func NewService(st Store, opts ...ServiceOption) *Service {
	s := &Service{store: st, journal: audit.Nop{}, codeLength: DefaultCodeLength}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() Store { return s.store }

// SaveTemplate creates the template when it has no ID yet and updates it
// otherwise. Only the author can update a template.
func (s *Service) SaveTemplate(ctx context.Context, t Template) (Template, error) {
	p, err := rbac.Require(ctx, rbac.PermTemplateEdit)
	if err != nil {
		return Template{}, err
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.TemplateID == "" {
		t.TemplateID = s.store.NewTemplateID()
		t.CreatedBy = p.Username
		if err := s.store.AddTemplate(t); err != nil {
			return Template{}, err
		}
		glog.Infof("template %s created by %s", t.TemplateID, p.Username)
		return t, nil
	}
	cur, ok := s.store.GetTemplate(t.TemplateID)
	if !ok {
		return Template{}, NewNotFound("template %q not found", t.TemplateID)
	}
	if cur.CreatedBy != p.Username {
		return Template{}, NewProtected("template %s belongs to %s", t.TemplateID, cur.CreatedBy)
	}
	t.CreatedBy = cur.CreatedBy
	if err := s.store.UpdateTemplate(t); err != nil {
		return Template{}, err
	}
	return t, nil
}

// DeleteTemplate removes one of the caller's templates. inUse reports that
// exams were published from it; they keep their own copy of the questions.
func (s *Service) DeleteTemplate(ctx context.Context, id string) (inUse bool, err error) {
	p, err := rbac.Require(ctx, rbac.PermTemplateEdit)
	if err != nil {
		return false, err
	}
	cur, ok := s.store.GetTemplate(id)
	if !ok {
		return false, NewNotFound("template %q not found", id)
	}
	if cur.CreatedBy != p.Username {
		return false, NewProtected("template %s belongs to %s", id, cur.CreatedBy)
	}
	inUse = s.store.HasExamFromTemplate(id)
	if err := s.store.DeleteTemplate(id); err != nil {
		return false, err
	}
	if inUse {
		glog.Warningf("template %s deleted while exams still reference it", id)
	}
	return inUse, nil
}

// MyTemplates lists the caller's templates.
func (s *Service) MyTemplates(ctx context.Context) ([]Template, error) {
	p, err := rbac.Require(ctx, rbac.PermTemplateEdit)
	if err != nil {
		return nil, err
	}
	return s.store.ListTemplatesByTeacher(p.Username), nil
}

// Publish turns one of the caller's templates into an exam.
func (s *Service) Publish(ctx context.Context, templateID string, opts PublishOptions) (Exam, error) {
	p, err := rbac.Require(ctx, rbac.PermExamPublish)
	if err != nil {
		return Exam{}, err
	}
	tpl, ok := s.store.GetTemplate(templateID)
	if !ok {
		return Exam{}, NewNotFound("template %q not found", templateID)
	}
	if tpl.CreatedBy != "" && tpl.CreatedBy != p.Username {
		return Exam{}, NewProtected("template %s belongs to %s", templateID, tpl.CreatedBy)
	}
	opts.CreatedBy = p.Username
	if opts.CodeLength <= 0 {
		opts.CodeLength = s.codeLength
	}
	e, err := Publish(s.store, tpl, opts)
	if err != nil {
		return Exam{}, err
	}
	audit.Safe(ctx, s.journal, audit.Event{
		Type: audit.TypeExamPublished, Key: e.ExamID, Actor: p.Username,
		Data: map[string]interface{}{"template_id": tpl.TemplateID, "access_code": e.AccessCode},
	})
	return e, nil
}

// MyExams lists the exams the caller published.
func (s *Service) MyExams(ctx context.Context) ([]Exam, error) {
	p, err := rbac.Require(ctx, rbac.PermExamPublish)
	if err != nil {
		return nil, err
	}
	return s.store.ListExamsByTeacher(p.Username), nil
}

// DeleteExam removes one of the caller's exams. Attempts are kept unless
// withAttempts is set.
func (s *Service) DeleteExam(ctx context.Context, id string, withAttempts bool) error {
	p, err := s.requireExamOwner(ctx, id, rbac.PermExamDeleteOwn)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExam(id); err != nil {
		return err
	}
	removed := 0
	if withAttempts {
		if removed, err = s.store.DeleteAttemptsForExam(id); err != nil {
			return err
		}
	}
	audit.Safe(ctx, s.journal, audit.Event{
		Type: audit.TypeExamDeleted, Key: id, Actor: p.Username,
		Data: map[string]interface{}{"attempts_removed": removed},
	})
	glog.Infof("exam %s deleted by %s (%d attempts removed)", id, p.Username, removed)
	return nil
}

// Results lists the attempts on one of the caller's exams, newest first.
func (s *Service) Results(ctx context.Context, examID string) ([]Attempt, error) {
	if _, err := s.requireExamOwner(ctx, examID, rbac.PermAttemptViewAll); err != nil {
		return nil, err
	}
	return s.store.ListAttemptsByExam(examID), nil
}

// MyAttempts lists the caller's own attempts, newest first.
func (s *Service) MyAttempts(ctx context.Context) ([]Attempt, error) {
	p, err := rbac.Require(ctx, rbac.PermAttemptViewOwn)
	if err != nil {
		return nil, err
	}
	return s.store.ListAttemptsByUser(p.Username), nil
}

// requireExamOwner checks perm and, for teachers, that they published the exam.
func (s *Service) requireExamOwner(ctx context.Context, examID, perm string) (rbac.Principal, error) {
	p, err := rbac.Require(ctx, perm)
	if err != nil {
		return rbac.Principal{}, err
	}
	e, ok := s.store.GetExam(examID)
	if !ok {
		return rbac.Principal{}, NewNotFound("exam %q not found", examID)
	}
	if p.Role == rbac.RoleTeacher && e.CreatedBy != p.Username {
		return rbac.Principal{}, NewProtected("exam %s belongs to %s", examID, e.CreatedBy)
	}
	return p, nil
}
