package app

import (
	"context"
	"database/sql"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/account"
	"github.com/mind-engage/mindengage-quiz/internal/audit"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

// App is everything a front end needs, wired from one Config.
type App struct {
	Config   config.Config
	Store    *exam.FileStore
	Journal  *audit.Journal // nil when the audit driver is "none"
	Accounts *account.Service
	Exams    *exam.Service

	dbh *sql.DB
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := exam.OpenFile(cfg.DataFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %s", cfg.DataFile)
	}
	a := &App{Config: cfg, Store: st}

	var rec audit.Recorder = audit.Nop{}
	if db.Driver(cfg.AuditDriver) != db.DriverNone {
		dbh, err := db.Open(ctx, db.Driver(cfg.AuditDriver), cfg.AuditDSN)
		if err != nil {
			return nil, errors.Wrap(err, "open audit journal")
		}
		a.dbh = dbh
		a.Journal = audit.NewJournal(dbh, cfg.SiteID)
		rec = a.Journal
	}

	a.Accounts = account.New(st,
		account.WithJournal(rec),
		account.WithHashing(cfg.HashPasswords, cfg.BcryptCost),
		account.WithTempPasswordLength(cfg.TempPasswordLength),
	)
	a.Exams = exam.NewService(st, exam.WithJournal(rec), exam.WithCodeLength(cfg.AccessCodeLength))
	glog.Infof("app ready: data=%s audit=%s", cfg.DataFile, cfg.AuditDriver)
	return a, nil
}

func (a *App) recorder() audit.Recorder {
	if a.Journal == nil {
		return audit.Nop{}
	}
	return a.Journal
}

// OpenSession prepares an exam session by access code with the configured
// proctoring settings. Extra options are applied last.
func (a *App) OpenSession(code string, extra ...session.Option) (*session.Session, error) {
	opts := []session.Option{
		session.WithMaxViolations(a.Config.MaxViolations),
		session.WithCooldown(a.Config.ViolationCooldown),
		session.WithMonitorGrace(a.Config.MonitorGrace),
		session.Journaled(a.recorder()),
	}
	return session.Open(a.Store, code, append(opts, extra...)...)
}

func (a *App) Close() error {
	if a.dbh == nil {
		return nil
	}
	return a.dbh.Close()
}
