package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
)

// derivedTables lists every table a rebuild truncates. sleep_pauses goes
// first because it references sleep_log.
var derivedTables = []string{"sleep_pauses", "day_start", "diaper_log", "sleep_log", "baby"}

// TruncateDerived empties every derived table. The log is untouched.
func (t *Tx) TruncateDerived(ctx context.Context) error {
	for _, table := range derivedTables {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// --- baby ---

type babyRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	Birthdate  string `db:"birthdate"`
	CreatedSeq int64  `db:"created_seq"`
}

func (r babyRow) model() model.Baby {
	return model.Baby{ID: r.ID, Name: r.Name, Birthdate: r.Birthdate, CreatedSeq: r.CreatedSeq}
}

// InsertBaby adds a subject.
func (t *Tx) InsertBaby(ctx context.Context, b model.Baby) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO baby (id, name, birthdate, created_seq) VALUES (?, ?, ?, ?)`,
		b.ID, b.Name, b.Birthdate, b.CreatedSeq)
	if err != nil {
		return fmt.Errorf("insert baby: %w", err)
	}
	return nil
}

// LatestBaby returns the active subject, or ErrNotFound.
func (t *Tx) LatestBaby(ctx context.Context) (model.Baby, error) {
	var row babyRow
	err := sqlscan.Get(ctx, t.tx, &row,
		`SELECT id, name, birthdate, created_seq FROM baby ORDER BY created_seq DESC LIMIT 1`)
	if sqlscan.NotFound(err) {
		return model.Baby{}, ErrNotFound
	}
	if err != nil {
		return model.Baby{}, fmt.Errorf("latest baby: %w", err)
	}
	return row.model(), nil
}

// BabyByID returns one subject, or ErrNotFound.
func (t *Tx) BabyByID(ctx context.Context, id int64) (model.Baby, error) {
	var row babyRow
	err := sqlscan.Get(ctx, t.tx, &row,
		`SELECT id, name, birthdate, created_seq FROM baby WHERE id = ?`, id)
	if sqlscan.NotFound(err) {
		return model.Baby{}, ErrNotFound
	}
	if err != nil {
		return model.Baby{}, fmt.Errorf("baby %d: %w", id, err)
	}
	return row.model(), nil
}

// PatchBaby applies the non-nil fields of p.
func (t *Tx) PatchBaby(ctx context.Context, id int64, p model.BabyPatch) error {
	upd := builder.Update("baby").Where(sq.Eq{"id": id})
	changed := false
	if p.Name != nil {
		upd = upd.Set("name", *p.Name)
		changed = true
	}
	if p.Birthdate != nil {
		upd = upd.Set("birthdate", *p.Birthdate)
		changed = true
	}
	if !changed {
		return nil
	}
	return t.exec(ctx, "patch baby", upd)
}

// --- sleep ---

type sleepRow struct {
	ID        int64   `db:"id"`
	BabyID    int64   `db:"baby_id"`
	StartTime string  `db:"start_time"`
	EndTime   *string `db:"end_time"`
	Type      string  `db:"type"`
	Mood      *string `db:"mood"`
	Method    *string `db:"method"`
	Notes     *string `db:"notes"`
	Deleted   bool    `db:"deleted"`
}

var sleepColumns = []string{"id", "baby_id", "start_time", "end_time", "type", "mood", "method", "notes", "deleted"}

func (r sleepRow) model() (model.Sleep, error) {
	start, err := parseTime(r.StartTime)
	if err != nil {
		return model.Sleep{}, err
	}
	end, err := parseTimePtr(r.EndTime)
	if err != nil {
		return model.Sleep{}, err
	}
	return model.Sleep{
		ID:        r.ID,
		BabyID:    r.BabyID,
		StartTime: start,
		EndTime:   end,
		Kind:      ir.SleepKind(r.Type),
		Mood:      r.Mood,
		Method:    r.Method,
		Notes:     r.Notes,
		Deleted:   r.Deleted,
		Pauses:    []model.Pause{},
	}, nil
}

// InsertSleep adds a session. Pauses on s are ignored.
func (t *Tx) InsertSleep(ctx context.Context, s model.Sleep) error {
	ins := builder.Insert("sleep_log").
		Columns("id", "baby_id", "start_time", "end_time", "type", "mood", "method", "notes", "deleted").
		Values(s.ID, s.BabyID, formatTime(s.StartTime), formatTimePtr(s.EndTime), string(s.Kind.OrNap()),
			s.Mood, s.Method, s.Notes, boolInt(s.Deleted))
	return t.exec(ctx, "insert sleep", ins)
}

// PatchSleep applies the non-nil fields of p. Unknown ids are a no-op.
func (t *Tx) PatchSleep(ctx context.Context, id int64, p model.SleepPatch) error {
	if p.Empty() {
		return nil
	}
	upd := builder.Update("sleep_log").Where(sq.Eq{"id": id})
	if p.StartTime != nil {
		upd = upd.Set("start_time", formatTime(*p.StartTime))
	}
	if p.EndTime != nil {
		upd = upd.Set("end_time", formatTime(*p.EndTime))
	}
	if p.Kind != nil {
		upd = upd.Set("type", string(p.Kind.OrNap()))
	}
	if p.Notes != nil {
		upd = upd.Set("notes", *p.Notes)
	}
	if p.Mood != nil {
		upd = upd.Set("mood", *p.Mood)
	}
	if p.Method != nil {
		upd = upd.Set("method", *p.Method)
	}
	if p.Deleted != nil {
		upd = upd.Set("deleted", boolInt(*p.Deleted))
	}
	return t.exec(ctx, "patch sleep", upd)
}

// SleepByID returns one session with its pauses, or ErrNotFound.
func (t *Tx) SleepByID(ctx context.Context, id int64) (model.Sleep, error) {
	sleeps, err := t.selectSleeps(ctx, builder.Select(sleepColumns...).From("sleep_log").Where(sq.Eq{"id": id}))
	if err != nil {
		return model.Sleep{}, fmt.Errorf("sleep %d: %w", id, err)
	}
	if len(sleeps) == 0 {
		return model.Sleep{}, ErrNotFound
	}
	return sleeps[0], nil
}

// ActiveSleep returns the subject's running session, or ErrNotFound.
func (t *Tx) ActiveSleep(ctx context.Context, babyID int64) (model.Sleep, error) {
	q := builder.Select(sleepColumns...).From("sleep_log").
		Where(sq.Eq{"baby_id": babyID, "end_time": nil, "deleted": 0}).
		OrderBy("id DESC").
		Limit(1)
	sleeps, err := t.selectSleeps(ctx, q)
	if err != nil {
		return model.Sleep{}, fmt.Errorf("active sleep: %w", err)
	}
	if len(sleeps) == 0 {
		return model.Sleep{}, ErrNotFound
	}
	return sleeps[0], nil
}

// SleepsSince returns the subject's sessions that started at or after since,
// newest first. Deleted sessions are excluded.
func (t *Tx) SleepsSince(ctx context.Context, babyID int64, since time.Time) ([]model.Sleep, error) {
	q := builder.Select(sleepColumns...).From("sleep_log").
		Where(sq.Eq{"baby_id": babyID, "deleted": 0}).
		Where(sq.GtOrEq{"start_time": formatTime(since)}).
		OrderBy("start_time DESC", "id DESC")
	sleeps, err := t.selectSleeps(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sleeps since: %w", err)
	}
	return sleeps, nil
}

// SleepFilter narrows a history query. Zero values mean unbounded.
type SleepFilter struct {
	From  *time.Time
	To    *time.Time
	Limit uint64
}

// SleepHistory returns sessions in [From, To] by start time, newest first.
func (t *Tx) SleepHistory(ctx context.Context, babyID int64, f SleepFilter) ([]model.Sleep, error) {
	q := builder.Select(sleepColumns...).From("sleep_log").
		Where(sq.Eq{"baby_id": babyID, "deleted": 0}).
		OrderBy("start_time DESC", "id DESC")
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"start_time": formatTime(*f.From)})
	}
	if f.To != nil {
		q = q.Where(sq.LtOrEq{"start_time": formatTime(*f.To)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	sleeps, err := t.selectSleeps(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sleep history: %w", err)
	}
	return sleeps, nil
}

func (t *Tx) selectSleeps(ctx context.Context, q sq.SelectBuilder) ([]model.Sleep, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []sleepRow
	if err := sqlscan.Select(ctx, t.tx, &rows, query, args...); err != nil {
		return nil, err
	}

	sleeps := make([]model.Sleep, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		s, err := r.model()
		if err != nil {
			return nil, err
		}
		sleeps = append(sleeps, s)
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		return sleeps, nil
	}

	pauses, err := t.pausesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sleeps {
		if ps, ok := pauses[sleeps[i].ID]; ok {
			sleeps[i].Pauses = ps
		}
	}
	return sleeps, nil
}

// --- pauses ---

type pauseRow struct {
	SleepID    int64   `db:"sleep_id"`
	Seq        int64   `db:"seq"`
	PauseTime  string  `db:"pause_time"`
	ResumeTime *string `db:"resume_time"`
}

func (r pauseRow) model() (model.Pause, error) {
	at, err := parseTime(r.PauseTime)
	if err != nil {
		return model.Pause{}, err
	}
	resume, err := parseTimePtr(r.ResumeTime)
	if err != nil {
		return model.Pause{}, err
	}
	return model.Pause{SleepID: r.SleepID, Seq: r.Seq, PauseTime: at, ResumeTime: resume}, nil
}

func (t *Tx) pausesFor(ctx context.Context, sleepIDs []int64) (map[int64][]model.Pause, error) {
	query, args, err := builder.Select("sleep_id", "seq", "pause_time", "resume_time").
		From("sleep_pauses").
		Where(sq.Eq{"sleep_id": sleepIDs}).
		OrderBy("sleep_id ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []pauseRow
	if err := sqlscan.Select(ctx, t.tx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("pauses: %w", err)
	}

	out := make(map[int64][]model.Pause, len(sleepIDs))
	for _, r := range rows {
		p, err := r.model()
		if err != nil {
			return nil, err
		}
		out[p.SleepID] = append(out[p.SleepID], p)
	}
	return out, nil
}

// InsertPause opens a pause on a session.
func (t *Tx) InsertPause(ctx context.Context, p model.Pause) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sleep_pauses (sleep_id, seq, pause_time, resume_time) VALUES (?, ?, ?, ?)`,
		p.SleepID, p.Seq, formatTime(p.PauseTime), formatTimePtr(p.ResumeTime))
	if err != nil {
		return fmt.Errorf("insert pause: %w", err)
	}
	return nil
}

// ResumePause closes the pause opened by event seq on sleepID.
func (t *Tx) ResumePause(ctx context.Context, sleepID, seq int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE sleep_pauses SET resume_time = ? WHERE sleep_id = ? AND seq = ?`,
		formatTime(at), sleepID, seq)
	if err != nil {
		return fmt.Errorf("resume pause: %w", err)
	}
	return nil
}

// --- diapers ---

type diaperRow struct {
	ID      int64   `db:"id"`
	BabyID  int64   `db:"baby_id"`
	Time    string  `db:"time"`
	Type    string  `db:"type"`
	Amount  *string `db:"amount"`
	Note    *string `db:"note"`
	Deleted bool    `db:"deleted"`
}

var diaperColumns = []string{"id", "baby_id", "time", "type", "amount", "note", "deleted"}

func (r diaperRow) model() (model.Diaper, error) {
	at, err := parseTime(r.Time)
	if err != nil {
		return model.Diaper{}, err
	}
	return model.Diaper{
		ID:      r.ID,
		BabyID:  r.BabyID,
		Time:    at,
		Kind:    r.Type,
		Amount:  r.Amount,
		Note:    r.Note,
		Deleted: r.Deleted,
	}, nil
}

// InsertDiaper adds a diaper entry.
func (t *Tx) InsertDiaper(ctx context.Context, d model.Diaper) error {
	ins := builder.Insert("diaper_log").
		Columns(diaperColumns...).
		Values(d.ID, d.BabyID, formatTime(d.Time), d.Kind, d.Amount, d.Note, boolInt(d.Deleted))
	return t.exec(ctx, "insert diaper", ins)
}

// DeleteDiaper soft-deletes an entry. Unknown ids are a no-op.
func (t *Tx) DeleteDiaper(ctx context.Context, id int64) error {
	return t.exec(ctx, "delete diaper", builder.Update("diaper_log").Set("deleted", 1).Where(sq.Eq{"id": id}))
}

// DiaperHistory returns the subject's entries at or after since (when set),
// newest first, up to limit (when positive).
func (t *Tx) DiaperHistory(ctx context.Context, babyID int64, since *time.Time, limit uint64) ([]model.Diaper, error) {
	q := builder.Select(diaperColumns...).From("diaper_log").
		Where(sq.Eq{"baby_id": babyID, "deleted": 0}).
		OrderBy("time DESC", "id DESC")
	if since != nil {
		q = q.Where(sq.GtOrEq{"time": formatTime(*since)})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("diaper history: build query: %w", err)
	}

	var rows []diaperRow
	if err := sqlscan.Select(ctx, t.tx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("diaper history: %w", err)
	}
	out := make([]model.Diaper, 0, len(rows))
	for _, r := range rows {
		d, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// --- day start ---

type dayStartRow struct {
	BabyID   int64  `db:"baby_id"`
	Date     string `db:"date"`
	WakeTime string `db:"wake_time"`
}

func (r dayStartRow) model() (model.DayStart, error) {
	at, err := parseTime(r.WakeTime)
	if err != nil {
		return model.DayStart{}, err
	}
	return model.DayStart{BabyID: r.BabyID, Date: r.Date, WakeTime: at}, nil
}

// UpsertDayStart records the wake-up for (baby, date), replacing any earlier one.
func (t *Tx) UpsertDayStart(ctx context.Context, d model.DayStart) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO day_start (baby_id, date, wake_time) VALUES (?, ?, ?)
		ON CONFLICT(baby_id, date) DO UPDATE SET wake_time = excluded.wake_time
	`, d.BabyID, d.Date, formatTime(d.WakeTime))
	if err != nil {
		return fmt.Errorf("upsert day start: %w", err)
	}
	return nil
}

// DayStartFor returns the wake-up recorded for date, or ErrNotFound.
func (t *Tx) DayStartFor(ctx context.Context, babyID int64, date string) (model.DayStart, error) {
	var row dayStartRow
	err := sqlscan.Get(ctx, t.tx, &row,
		`SELECT baby_id, date, wake_time FROM day_start WHERE baby_id = ? AND date = ?`, babyID, date)
	if sqlscan.NotFound(err) {
		return model.DayStart{}, ErrNotFound
	}
	if err != nil {
		return model.DayStart{}, fmt.Errorf("day start: %w", err)
	}
	return row.model()
}

func (t *Tx) exec(ctx context.Context, op string, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
