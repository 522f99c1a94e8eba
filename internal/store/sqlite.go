package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"AlphaDrop/internal/model"
)

// SQLiteStore persists participants, drops and trust history to SQLite.
// All transactions go through one connection, so an Update is a single
// serialized read-modify-write.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if !strings.Contains(dsn, "mode=memory") {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dsn)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS participants (
			seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
			id                   INTEGER NOT NULL UNIQUE,
			tag                  TEXT NOT NULL DEFAULT '',
			rate                 INTEGER NOT NULL DEFAULT 17,
			daily_window         TEXT NOT NULL DEFAULT '[]',
			balance              INTEGER NOT NULL DEFAULT 0,
			last_window_date     TEXT NOT NULL DEFAULT '',
			last_outcome_date    TEXT NOT NULL DEFAULT '',
			last_reported_pickup TEXT NOT NULL DEFAULT '',
			last_profile_update  TEXT NOT NULL DEFAULT '',
			trust                INTEGER NOT NULL DEFAULT 80,
			taken_count          INTEGER NOT NULL DEFAULT 0,
			fail_count           INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL DEFAULT '',
			updated_at           TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS drops (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			scheduled_at         TEXT NOT NULL,
			scheduled_unix       INTEGER NOT NULL,
			requirement          INTEGER NOT NULL,
			status               TEXT NOT NULL DEFAULT 'scheduled',
			max_slots            INTEGER NOT NULL DEFAULT 3,
			reserved             TEXT NOT NULL DEFAULT '[]',
			picked               TEXT NOT NULL DEFAULT '[]',
			failed               TEXT NOT NULL DEFAULT '[]',
			reminder_plan        TEXT,
			predicted_at_create  TEXT,
			predicted_at_minus1h TEXT,
			summary_posted       INTEGER NOT NULL DEFAULT 0,
			chat_id              TEXT NOT NULL DEFAULT '',
			thread_id            INTEGER NOT NULL DEFAULT 0,
			created_by           INTEGER NOT NULL DEFAULT 0,
			note                 TEXT NOT NULL DEFAULT '',
			created_at           TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drops_status_ts ON drops(status, scheduled_unix)`,

		`CREATE TABLE IF NOT EXISTS trust_events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			drop_id        INTEGER NOT NULL,
			participant_id INTEGER NOT NULL,
			rule           TEXT NOT NULL,
			delta          INTEGER NOT NULL,
			trust_before   INTEGER NOT NULL,
			trust_after    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_participant ON trust_events(participant_id, id)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLiteStore) run(ctx context.Context, readOnly bool, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if readOnly {
		return tx.Rollback()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const participantCols = `id, tag, rate, daily_window, balance, last_window_date, last_outcome_date,
	last_reported_pickup, last_profile_update, trust, taken_count, fail_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (*model.Participant, error) {
	var (
		p                                         model.Participant
		win                                       string
		lastWin, lastOut, lastRep, lastProf, c, u string
	)
	if err := row.Scan(&p.ID, &p.Tag, &p.Rate, &win, &p.Balance, &lastWin, &lastOut,
		&lastRep, &lastProf, &p.Trust, &p.TakenCount, &p.FailCount, &c, &u); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(win), &p.Window); err != nil {
		return nil, fmt.Errorf("decode window of %d: %w", p.ID, err)
	}
	p.LastWindowDate = parseTime(lastWin)
	p.LastOutcomeDate = parseTime(lastOut)
	p.LastReportedPickup = parseTime(lastRep)
	p.LastProfileUpdate = parseTime(lastProf)
	p.CreatedAt = parseTime(c)
	p.UpdatedAt = parseTime(u)
	return &p, nil
}

func (t *sqlTx) Participant(id int64) (*model.Participant, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+participantCols+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query participant %d: %w", id, err)
	}
	return p, nil
}

func (t *sqlTx) Participants() ([]*model.Participant, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+participantCols+` FROM participants ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	var out []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqlTx) PutParticipant(p *model.Participant) error {
	win, err := json.Marshal(nonNilInts(p.Window))
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO participants (`+participantCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tag=excluded.tag, rate=excluded.rate, daily_window=excluded.daily_window,
			balance=excluded.balance, last_window_date=excluded.last_window_date,
			last_outcome_date=excluded.last_outcome_date,
			last_reported_pickup=excluded.last_reported_pickup,
			last_profile_update=excluded.last_profile_update, trust=excluded.trust,
			taken_count=excluded.taken_count, fail_count=excluded.fail_count,
			updated_at=excluded.updated_at`,
		p.ID, p.Tag, p.Rate, string(win), p.Balance,
		formatTime(p.LastWindowDate), formatTime(p.LastOutcomeDate),
		formatTime(p.LastReportedPickup), formatTime(p.LastProfileUpdate),
		p.Trust, p.TakenCount, p.FailCount, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert participant %d: %w", p.ID, err)
	}
	return nil
}

const dropCols = `id, scheduled_at, requirement, status, max_slots, reserved, picked, failed,
	reminder_plan, predicted_at_create, predicted_at_minus1h, summary_posted,
	chat_id, thread_id, created_by, note, created_at`

func scanDrop(row scanner) (*model.Drop, error) {
	var (
		d                             model.Drop
		at, created                   string
		reserved, picked, failed      string
		plan, predCreate, predMinus1h sql.NullString
		status                        string
		summary                       int
	)
	if err := row.Scan(&d.ID, &at, &d.Requirement, &status, &d.MaxSlots, &reserved, &picked, &failed,
		&plan, &predCreate, &predMinus1h, &summary, &d.ChatID, &d.ThreadID, &d.CreatedBy, &d.Note, &created); err != nil {
		return nil, err
	}
	d.Status = model.DropStatus(status)
	d.SummaryPosted = summary != 0
	d.ScheduledAt = parseTime(at)
	d.CreatedAt = parseTime(created)
	for _, f := range []struct {
		raw string
		dst *[]int64
	}{{reserved, &d.Reserved}, {picked, &d.Picked}, {failed, &d.Failed}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode drop %d sets: %w", d.ID, err)
		}
	}
	if plan.Valid {
		if err := json.Unmarshal([]byte(plan.String), &d.ReminderPlan); err != nil {
			return nil, fmt.Errorf("decode drop %d reminder plan: %w", d.ID, err)
		}
	}
	if predCreate.Valid {
		if err := json.Unmarshal([]byte(predCreate.String), &d.PredictedAtCreate); err != nil {
			return nil, fmt.Errorf("decode drop %d snapshot: %w", d.ID, err)
		}
	}
	if predMinus1h.Valid {
		if err := json.Unmarshal([]byte(predMinus1h.String), &d.PredictedAtMinus1h); err != nil {
			return nil, fmt.Errorf("decode drop %d snapshot: %w", d.ID, err)
		}
	}
	return &d, nil
}

func (t *sqlTx) Drop(id int64) (*model.Drop, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+dropCols+` FROM drops WHERE id = ?`, id)
	d, err := scanDrop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query drop %d: %w", id, err)
	}
	return d, nil
}

func (t *sqlTx) Drops(f DropFilter) ([]*model.Drop, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_unix >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.Until.IsZero() {
		where = append(where, "scheduled_unix <= ?")
		args = append(args, f.Until.Unix())
	}
	q := `SELECT ` + dropCols + ` FROM drops`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Desc {
		q += " ORDER BY scheduled_unix DESC, id DESC"
	} else {
		q += " ORDER BY scheduled_unix ASC, id ASC"
	}
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()
	var out []*model.Drop
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *sqlTx) CountDrops() (int, error) {
	var n int
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM drops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count drops: %w", err)
	}
	return n, nil
}

type dropRow struct {
	reserved, picked, failed      string
	plan, predCreate, predMinus1h sql.NullString
}

func encodeDrop(d *model.Drop) (*dropRow, error) {
	var r dropRow
	var err error
	enc := func(v any) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}
	r.reserved = enc(nonNilIDs(d.Reserved))
	r.picked = enc(nonNilIDs(d.Picked))
	r.failed = enc(nonNilIDs(d.Failed))
	if d.ReminderPlan != nil {
		r.plan = sql.NullString{String: enc(d.ReminderPlan), Valid: true}
	}
	if d.PredictedAtCreate != nil {
		r.predCreate = sql.NullString{String: enc(d.PredictedAtCreate), Valid: true}
	}
	if d.PredictedAtMinus1h != nil {
		r.predMinus1h = sql.NullString{String: enc(d.PredictedAtMinus1h), Valid: true}
	}
	if err != nil {
		return nil, fmt.Errorf("encode drop: %w", err)
	}
	return &r, nil
}

func (t *sqlTx) InsertDrop(d *model.Drop) (int64, error) {
	r, err := encodeDrop(d)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(t.ctx, `INSERT INTO drops
		(scheduled_at, scheduled_unix, requirement, status, max_slots, reserved, picked, failed,
		 reminder_plan, predicted_at_create, predicted_at_minus1h, summary_posted,
		 chat_id, thread_id, created_by, note, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		formatTime(d.ScheduledAt), d.ScheduledAt.Unix(), d.Requirement, string(d.Status), d.MaxSlots,
		r.reserved, r.picked, r.failed, r.plan, r.predCreate, r.predMinus1h, boolInt(d.SummaryPosted),
		d.ChatID, d.ThreadID, d.CreatedBy, d.Note, formatTime(d.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert drop: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqlTx) PutDrop(d *model.Drop) error {
	r, err := encodeDrop(d)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `UPDATE drops SET
		scheduled_at=?, scheduled_unix=?, requirement=?, status=?, max_slots=?,
		reserved=?, picked=?, failed=?, reminder_plan=?, predicted_at_create=?,
		predicted_at_minus1h=?, summary_posted=?, chat_id=?, thread_id=?, note=?
		WHERE id=?`,
		formatTime(d.ScheduledAt), d.ScheduledAt.Unix(), d.Requirement, string(d.Status), d.MaxSlots,
		r.reserved, r.picked, r.failed, r.plan, r.predCreate, r.predMinus1h,
		boolInt(d.SummaryPosted), d.ChatID, d.ThreadID, d.Note, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update drop %d: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) AppendTrustEvent(evt *model.TrustEvent) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO trust_events
		(timestamp, drop_id, participant_id, rule, delta, trust_before, trust_after)
		VALUES (?,?,?,?,?,?,?)`,
		evt.At.Unix(), evt.DropID, evt.ParticipantID, string(evt.Rule),
		evt.Delta, evt.TrustBefore, evt.TrustAfter,
	)
	if err != nil {
		return fmt.Errorf("insert trust event: %w", err)
	}
	return nil
}

func (t *sqlTx) TrustEvents(participantID int64, limit int) ([]model.TrustEvent, error) {
	q := `SELECT timestamp, drop_id, participant_id, rule, delta, trust_before, trust_after
		FROM trust_events WHERE participant_id = ? ORDER BY id DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := t.tx.QueryContext(t.ctx, q, participantID)
	if err != nil {
		return nil, fmt.Errorf("query trust events: %w", err)
	}
	defer rows.Close()
	var out []model.TrustEvent
	for rows.Next() {
		var (
			evt  model.TrustEvent
			ts   int64
			rule string
		)
		if err := rows.Scan(&ts, &evt.DropID, &evt.ParticipantID, &rule, &evt.Delta, &evt.TrustBefore, &evt.TrustAfter); err != nil {
			return nil, err
		}
		evt.At = time.Unix(ts, 0)
		evt.Rule = model.TrustRule(rule)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("[WARN] bad stored time %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilIDs(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
