package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-quiz/internal/audit"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// ErrBadCredentials covers both an unknown username and a wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

const (
	MinPasswordLength         = 8
	DefaultTempPasswordLength = 8
	tempAlphabet              = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	dobLayout                 = "2006-01-02"
)

// citizenID is the format admin-created usernames must follow.
var citizenID = regexp.MustCompile(`^[0-9]{12}$`)

type Service struct {
	store   exam.Store
	journal audit.Recorder
	hash    bool
	cost    int
	tempLen int
}

type Option func(*Service)

func WithJournal(r audit.Recorder) Option { return func(s *Service) { s.journal = r } }

// WithHashing turns bcrypt storage of new credentials on or off.
func WithHashing(enabled bool, cost int) Option {
	return func(s *Service) {
		s.hash = enabled
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

func WithTempPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.tempLen = n
		}
	}
}

func New(store exam.Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		journal: audit.Nop{},
		hash:    true,
		cost:    bcrypt.DefaultCost,
		tempLen: DefaultTempPasswordLength,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoginResult is a successful sign-in.
type LoginResult struct {
	Principal rbac.Principal
	User      exam.User // Password cleared
	// MustChangePassword: the caller must run ChangePassword before
	// letting the user do anything else.
	MustChangePassword bool
}

// Context attaches the signed-in principal to ctx.
func (r LoginResult) Context(ctx context.Context) context.Context {
	return rbac.WithPrincipal(ctx, r.Principal)
}

// Login checks credentials. A stored plaintext password that matches is
// rewritten as a hash when hashing is enabled.
func (s *Service) Login(username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrBadCredentials
	}
	u, ok := s.store.FindUser(username)
	if !ok {
		glog.V(1).Infof("login: unknown user %q", username)
		return LoginResult{}, ErrBadCredentials
	}
	match, legacy := verify(u.Password, password)
	if !match {
		glog.V(1).Infof("login: wrong password for %q", username)
		return LoginResult{}, ErrBadCredentials
	}
	if legacy && s.hash {
		if enc, err := s.encode(password); err != nil {
			glog.Errorf("login: hashing legacy password for %q: %v", username, err)
		} else if err := s.store.UpdatePassword(username, enc); err != nil {
			glog.Errorf("login: upgrading stored password for %q: %v", username, err)
		} else {
			glog.Infof("login: stored password for %q upgraded to bcrypt", username)
		}
	}
	u.Role = exam.CanonicalRole(string(u.Role))
	u.Password = ""
	glog.Infof("login: %s signed in as %s", username, u.Role)
	return LoginResult{
		Principal:          rbac.Principal{Username: u.Username, Role: string(u.Role)},
		User:               u,
		MustChangePassword: u.MustChangePassword,
	}, nil
}

// ChangePassword replaces the caller's password and clears the forced
// change flag.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	p, err := rbac.Require(ctx, rbac.PermChangePassword)
	if err != nil {
		return err
	}
	u, ok := s.store.FindUser(p.Username)
	if !ok {
		return exam.NewNotFound("user %q not found", p.Username)
	}
	if match, _ := verify(u.Password, oldPassword); !match {
		return exam.NewInvalid("current password is incorrect")
	}
	if newPassword != confirm {
		return exam.NewInvalid("new passwords do not match")
	}
	if err := ValidateStrongPassword(newPassword); err != nil {
		return err
	}
	enc, err := s.encode(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(p.Username, enc, false); err != nil {
		return err
	}
	glog.Infof("account: %s changed their password", p.Username)
	return nil
}

// UpdateProfile edits the caller's own profile. dob, when set, must be YYYY-MM-DD.
func (s *Service) UpdateProfile(ctx context.Context, fullName, dob, studentID string) error {
	p, err := rbac.Require(ctx, rbac.PermUpdateProfile)
	if err != nil {
		return err
	}
	dob = strings.TrimSpace(dob)
	if dob != "" {
		if _, err := time.Parse(dobLayout, dob); err != nil {
			return exam.NewInvalid("date of birth %q is not YYYY-MM-DD", dob)
		}
	}
	return s.store.UpdateProfile(p.Username, strings.TrimSpace(fullName), dob, strings.TrimSpace(studentID))
}

// CreateUser adds an account with a generated temporary password, which is
// returned once and must be changed at first login.
func (s *Service) CreateUser(ctx context.Context, username string, role exam.Role) (string, error) {
	p, err := rbac.Require(ctx, rbac.PermUserCreate)
	if err != nil {
		return "", err
	}
	username = strings.TrimSpace(username)
	if !citizenID.MatchString(username) {
		return "", exam.NewInvalid("username must be exactly 12 digits")
	}
	temp, err := TempPassword(s.tempLen)
	if err != nil {
		return "", err
	}
	enc, err := s.encode(temp)
	if err != nil {
		return "", err
	}
	u := exam.User{
		Username:           username,
		Password:           enc,
		Role:               exam.CanonicalRole(string(role)),
		MustChangePassword: true,
	}
	if err := s.store.AddUser(u); err != nil {
		return "", err
	}
	audit.Safe(ctx, s.journal, audit.Event{
		Type: audit.TypeUserCreated, Key: username, Actor: p.Username,
		Data: map[string]interface{}{"role": string(u.Role)},
	})
	glog.Infof("account: %s created %s (%s)", p.Username, username, u.Role)
	return temp, nil
}

// ResetPassword sets a new password for another user, forces a change at
// their next login and journals the reason, which is required.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword, reason string) error {
	p, err := rbac.Require(ctx, rbac.PermUserReset)
	if err != nil {
		return err
	}
	username, reason = strings.TrimSpace(username), strings.TrimSpace(reason)
	switch {
	case username == "" || newPassword == "":
		return exam.NewInvalid("username and new password are required")
	case reason == "":
		return exam.NewInvalid("a reason is required to reset a password")
	}
	enc, err := s.encode(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(username, enc, true); err != nil {
		return err
	}
	audit.Safe(ctx, s.journal, audit.Event{
		Type: audit.TypePasswordReset, Key: username, Actor: p.Username,
		Data: map[string]interface{}{"reason": reason},
	})
	glog.Infof("account: %s reset the password of %s", p.Username, username)
	return nil
}

// DeleteUser removes an account. The root admin cannot be deleted.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	p, err := rbac.Require(ctx, rbac.PermUserDelete)
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if err := s.store.DeleteUser(username); err != nil {
		return err
	}
	audit.Safe(ctx, s.journal, audit.Event{Type: audit.TypeUserDeleted, Key: username, Actor: p.Username})
	glog.Infof("account: %s deleted %s", p.Username, username)
	return nil
}

// ListUsers returns every account with passwords cleared.
func (s *Service) ListUsers(ctx context.Context) ([]exam.User, error) {
	if _, err := rbac.Require(ctx, rbac.PermUserList); err != nil {
		return nil, err
	}
	users := s.store.ListUsers()
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

// ValidateStrongPassword requires MinPasswordLength characters with at
// least one upper-case letter, one lower-case letter and one digit.
func ValidateStrongPassword(pw string) error {
	if len([]rune(pw)) < MinPasswordLength {
		return exam.NewInvalid("password must be at least %d characters", MinPasswordLength)
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return exam.NewInvalid("password needs an upper-case letter, a lower-case letter and a digit")
	}
	return nil
}

// TempPassword draws n characters from an alphabet without look-alike
// glyphs.
func TempPassword(n int) (string, error) {
	if n <= 0 {
		n = DefaultTempPasswordLength
	}
	max := big.NewInt(int64(len(tempAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "generate temporary password")
		}
		buf[i] = tempAlphabet[v.Int64()]
	}
	return string(buf), nil
}

func (s *Service) encode(pw string) (string, error) {
	if !s.hash {
		return pw, nil
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), s.cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

// verify compares a stored credential with a candidate. legacy reports a
// plaintext stored value.
func verify(stored, given string) (match, legacy bool) {
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil, false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1, true
}

func isBcrypt(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
