package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	TypeAttemptSubmitted = "attempt.submitted"
	TypeUserCreated      = "user.created"
	TypePasswordReset    = "user.password_reset"
	TypeUserDeleted      = "user.deleted"
	TypeExamPublished    = "exam.published"
	TypeExamDeleted      = "exam.deleted"
)

// Event is one journal entry. Key is the natural key of the subject
// (attempt id, username, exam id); Data is stored as JSON.
type Event struct {
	Seq       int64
	SiteID    string
	Type      string
	Key       string
	Actor     string
	Data      map[string]interface{}
	CreatedAt time.Time
}

// Recorder accepts journal events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Journal is an append-only event_log table.
type Journal struct {
	db     *sql.DB
	siteID string
	now    func() time.Time
}

func NewJournal(db *sql.DB, siteID string) *Journal {
	if siteID == "" {
		siteID = "local"
	}
	return &Journal{db: db, siteID: siteID, now: time.Now}
}

func (j *Journal) Record(ctx context.Context, e Event) error {
	if e.Type == "" || e.Key == "" {
		return errors.New("journal event needs a type and a key")
	}
	data := e.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", e.Type)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, actor, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		j.siteID, e.Type, e.Key, e.Actor, string(buf), j.now().Unix())
	if err != nil {
		return errors.Wrapf(err, "append %s event", e.Type)
	}
	glog.V(2).Infof("journal: %s %s by %q", e.Type, e.Key, e.Actor)
	return nil
}

// List returns events oldest first, optionally filtered by type; limit <= 0
// means no limit.
func (j *Journal) List(ctx context.Context, typ string, limit int) ([]Event, error) {
	q := `SELECT seq, site_id, typ, key, actor, data, created_at FROM event_log`
	var args []interface{}
	if typ != "" {
		q += ` WHERE typ = $1`
		args = append(args, typ)
	}
	q += ` ORDER BY seq`
	if limit > 0 {
		args = append(args, limit)
		if typ != "" {
			q += ` LIMIT $2`
		} else {
			q += ` LIMIT $1`
		}
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query journal")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			data    string
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &e.Actor, &data, &created); err != nil {
			return nil, errors.Wrap(err, "scan journal row")
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, errors.Wrapf(err, "decode event %d", e.Seq)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Safe records e and only logs a failure. Domain changes are already
// durable when they are journaled, so a journal error must not undo them.
func Safe(ctx context.Context, r Recorder, e Event) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, e); err != nil {
		glog.Errorf("journal: %v", err)
	}
}
