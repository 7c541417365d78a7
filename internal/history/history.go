// Package history persists an audit trail of activity-supervisor state
// transitions and BrlAPI session lifecycle events to a local SQLite
// database, so a postmortem can reconstruct what the daemon did without
// re-running it.
//
// Uses the same load-on-open, append-on-event shape a flat JSON
// recent-items log would use, upgraded to gorm over
// github.com/glebarez/sqlite since the audit trail grows unboundedly over
// a daemon's uptime and benefits from indexed querying that a JSON blob
// does not offer.
package history

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"brld/internal/activity"
	"brld/internal/brlerr"
)

// DefaultPath is the database file used when the daemon does not override
// it via configuration.
const DefaultPath = "brld-history.db"

// TransitionRecord is one row of the activity_transitions table.
type TransitionRecord struct {
	ID           uint `gorm:"primarykey"`
	ActivityName string `gorm:"index"`
	FromState    string
	ToState      string
	Event        string
	At           time.Time `gorm:"index"`
}

// SessionEventRecord is one row of the session_events table: a BrlAPI
// session entering or leaving tty/raw mode, authenticating, or
// disconnecting.
type SessionEventRecord struct {
	ID        uint `gorm:"primarykey"`
	SessionID string `gorm:"index"`
	Kind      string
	Detail    string
	At        time.Time `gorm:"index"`
}

// Store is the opened audit-trail database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// its migrations. An empty path uses DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "opening history database "+path, err)
	}
	if err := db.AutoMigrate(&TransitionRecord{}, &SessionEventRecord{}); err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "migrating history database", err)
	}
	return &Store{db: db}, nil
}

// RecordTransition persists one activity state transition. Designed to be
// passed directly to activity.Activity.OnTransition via a closure that
// captures the activity's name.
func (s *Store) RecordTransition(name string, tr activity.Transition) error {
	row := TransitionRecord{
		ActivityName: name,
		FromState:    tr.From.String(),
		ToState:      tr.To.String(),
		Event:        tr.Event,
		At:           tr.At,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return brlerr.Wrap(brlerr.Io, "recording activity transition", err)
	}
	return nil
}

// RecordSessionEvent persists one BrlAPI session lifecycle event. sessionID
// is a session's uuid.UUID.String() form, stored as text since session ids
// are never used for arithmetic.
func (s *Store) RecordSessionEvent(sessionID string, kind, detail string, at time.Time) error {
	row := SessionEventRecord{SessionID: sessionID, Kind: kind, Detail: detail, At: at}
	if err := s.db.Create(&row).Error; err != nil {
		return brlerr.Wrap(brlerr.Io, "recording session event", err)
	}
	return nil
}

// Transitions returns every recorded transition for the named activity,
// oldest first.
func (s *Store) Transitions(name string) ([]TransitionRecord, error) {
	var rows []TransitionRecord
	err := s.db.Where("activity_name = ?", name).Order("at asc").Find(&rows).Error
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "querying activity transitions", err)
	}
	return rows, nil
}

// SessionEvents returns every recorded event for the given session, oldest
// first.
func (s *Store) SessionEvents(sessionID string) ([]SessionEventRecord, error) {
	var rows []SessionEventRecord
	err := s.db.Where("session_id = ?", sessionID).Order("at asc").Find(&rows).Error
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "querying session events", err)
	}
	return rows, nil
}

// Recent returns the most recent n transitions across all activities,
// newest first. Used by `brld monitor` for a live tail view.
func (s *Store) Recent(n int) ([]TransitionRecord, error) {
	var rows []TransitionRecord
	err := s.db.Order("at desc").Limit(n).Find(&rows).Error
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "querying recent transitions", err)
	}
	return rows, nil
}

// Trail binds a Store to one activity name, giving it a History() accessor
// that reconstructs activity.Transition values from persisted rows.
type Trail struct {
	store *Store
	name  string
}

// ActivityTrail returns a Trail for the named activity. Wire it via
// activity.Activity.OnTransition(func(tr activity.Transition) {
//     store.RecordTransition(name, tr)
// }) and read it back with History().
func (s *Store) ActivityTrail(name string) *Trail {
	return &Trail{store: s, name: name}
}

// History returns every recorded transition for this activity, oldest
// first. The error reports a failed database query.
func (t *Trail) History() ([]activity.Transition, error) {
	rows, err := t.store.Transitions(t.name)
	if err != nil {
		return nil, err
	}
	out := make([]activity.Transition, 0, len(rows))
	for _, row := range rows {
		from, _ := activity.ParseState(row.FromState)
		to, _ := activity.ParseState(row.ToState)
		out = append(out, activity.Transition{From: from, To: to, At: row.At, Event: row.Event})
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return brlerr.Wrap(brlerr.Io, "obtaining sql.DB handle", err)
	}
	return sqlDB.Close()
}
