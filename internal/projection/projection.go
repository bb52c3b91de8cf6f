// Package projection turns log events into rows of the derived tables.
//
// Apply is a pure function of (current tables, event): it never reads the
// wall clock and never appends events, so replaying the log from empty
// tables always produces the same state.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/store"
)

// Tables is the slice of the store a projection writes to.
// *store.Tx implements it.
type Tables interface {
	InsertBaby(ctx context.Context, b model.Baby) error
	LatestBaby(ctx context.Context) (model.Baby, error)
	BabyByID(ctx context.Context, id int64) (model.Baby, error)
	PatchBaby(ctx context.Context, id int64, p model.BabyPatch) error

	InsertSleep(ctx context.Context, s model.Sleep) error
	SleepByID(ctx context.Context, id int64) (model.Sleep, error)
	ActiveSleep(ctx context.Context, babyID int64) (model.Sleep, error)
	PatchSleep(ctx context.Context, id int64, p model.SleepPatch) error
	InsertPause(ctx context.Context, p model.Pause) error
	ResumePause(ctx context.Context, sleepID, seq int64, at time.Time) error

	InsertDiaper(ctx context.Context, d model.Diaper) error
	DeleteDiaper(ctx context.Context, id int64) error

	UpsertDayStart(ctx context.Context, d model.DayStart) error
}

var _ Tables = (*store.Tx)(nil)

// Apply projects one event. References to ids that do not exist are no-ops.
func Apply(ctx context.Context, t Tables, ev ir.Event) error {
	if ev.Body == nil {
		if err := ir.DecodeEvent(&ev); err != nil {
			return err
		}
	}

	var err error
	switch body := ev.Body.(type) {
	case ir.BabyCreated:
		err = t.InsertBaby(ctx, model.Baby{ID: ev.Seq, Name: body.Name, Birthdate: body.Birthdate, CreatedSeq: ev.Seq})
	case ir.BabyUpdated:
		err = applyBabyUpdated(ctx, t, body)
	case ir.SleepStarted:
		err = applySleepStarted(ctx, t, ev.Seq, body)
	case ir.SleepEnded:
		err = applySleepEnded(ctx, t, body)
	case ir.SleepUpdated:
		err = patchExisting(ctx, t, body.SleepID, model.SleepPatch{
			StartTime: body.StartTime,
			EndTime:   body.EndTime,
			Kind:      body.Kind,
			Notes:     body.Notes,
		})
	case ir.SleepPaused:
		err = applySleepPaused(ctx, t, ev.Seq, body)
	case ir.SleepResumed:
		err = applySleepResumed(ctx, t, body)
	case ir.SleepTagged:
		err = patchExisting(ctx, t, body.SleepID, model.SleepPatch{Mood: body.Mood, Method: body.Method})
	case ir.SleepDeleted:
		deleted := true
		err = patchExisting(ctx, t, body.SleepID, model.SleepPatch{Deleted: &deleted})
	case ir.SleepManual:
		err = applySleepManual(ctx, t, ev.Seq, body)
	case ir.DiaperLogged:
		err = applyDiaperLogged(ctx, t, ev.Seq, body)
	case ir.DiaperDeleted:
		err = t.DeleteDiaper(ctx, body.DiaperID)
	case ir.DayStarted:
		err = applyDayStarted(ctx, t, body)
	case ir.Unknown:
		slog.Debug("skipping unknown event type", "seq", ev.Seq, "type", body.Type)
	default:
		return fmt.Errorf("project event %d: unhandled payload %T", ev.Seq, ev.Body)
	}
	if err != nil {
		return fmt.Errorf("project event %d (%s): %w", ev.Seq, ev.Type, err)
	}
	return nil
}

// resolveBaby finds the subject an event refers to: babyID when set,
// otherwise the latest created subject. ok is false when there is none.
func resolveBaby(ctx context.Context, t Tables, babyID int64) (b model.Baby, ok bool, err error) {
	if babyID != 0 {
		b, err = t.BabyByID(ctx, babyID)
	} else {
		b, err = t.LatestBaby(ctx)
	}
	if store.IsNotFound(err) {
		return model.Baby{}, false, nil
	}
	if err != nil {
		return model.Baby{}, false, err
	}
	return b, true, nil
}

func lookupSleep(ctx context.Context, t Tables, id int64) (s model.Sleep, ok bool, err error) {
	s, err = t.SleepByID(ctx, id)
	if store.IsNotFound(err) {
		return model.Sleep{}, false, nil
	}
	if err != nil {
		return model.Sleep{}, false, err
	}
	return s, true, nil
}

func applyBabyUpdated(ctx context.Context, t Tables, body ir.BabyUpdated) error {
	b, ok, err := resolveBaby(ctx, t, 0)
	if err != nil || !ok {
		return err
	}
	return t.PatchBaby(ctx, b.ID, model.BabyPatch{Name: body.Name, Birthdate: body.Birthdate})
}

func applySleepStarted(ctx context.Context, t Tables, seq int64, body ir.SleepStarted) error {
	b, ok, err := resolveBaby(ctx, t, body.BabyID)
	if err != nil || !ok {
		return err
	}

	// Keep at most one running session per subject: a start while another
	// session runs ends the older one.
	active, err := t.ActiveSleep(ctx, b.ID)
	switch {
	case store.IsNotFound(err):
	case err != nil:
		return err
	default:
		end := body.StartTime
		if end.Before(active.StartTime) {
			end = active.StartTime
		}
		if err := endSleep(ctx, t, active, end); err != nil {
			return err
		}
	}

	return t.InsertSleep(ctx, model.Sleep{
		ID:        seq,
		BabyID:    b.ID,
		StartTime: body.StartTime,
		Kind:      body.Kind.OrNap(),
	})
}

func applySleepEnded(ctx context.Context, t Tables, body ir.SleepEnded) error {
	s, ok, err := lookupSleep(ctx, t, body.SleepID)
	if err != nil || !ok {
		return err
	}
	return endSleep(ctx, t, s, body.EndTime)
}

// endSleep sets the end time and closes an open pause at the same instant.
func endSleep(ctx context.Context, t Tables, s model.Sleep, end time.Time) error {
	if p := s.OpenPause(); p != nil {
		resume := end
		if resume.Before(p.PauseTime) {
			resume = p.PauseTime
		}
		if err := t.ResumePause(ctx, s.ID, p.Seq, resume); err != nil {
			return err
		}
	}
	return t.PatchSleep(ctx, s.ID, model.SleepPatch{EndTime: &end})
}

func patchExisting(ctx context.Context, t Tables, id int64, p model.SleepPatch) error {
	_, ok, err := lookupSleep(ctx, t, id)
	if err != nil || !ok {
		return err
	}
	return t.PatchSleep(ctx, id, p)
}

func applySleepPaused(ctx context.Context, t Tables, seq int64, body ir.SleepPaused) error {
	s, ok, err := lookupSleep(ctx, t, body.SleepID)
	if err != nil || !ok {
		return err
	}
	if !s.Active() || s.OpenPause() != nil {
		return nil
	}
	return t.InsertPause(ctx, model.Pause{SleepID: s.ID, Seq: seq, PauseTime: body.PauseTime})
}

func applySleepResumed(ctx context.Context, t Tables, body ir.SleepResumed) error {
	s, ok, err := lookupSleep(ctx, t, body.SleepID)
	if err != nil || !ok {
		return err
	}
	p := s.OpenPause()
	if p == nil {
		return nil
	}
	return t.ResumePause(ctx, s.ID, p.Seq, body.ResumeTime)
}

func applySleepManual(ctx context.Context, t Tables, seq int64, body ir.SleepManual) error {
	b, ok, err := resolveBaby(ctx, t, body.BabyID)
	if err != nil || !ok {
		return err
	}
	end := body.EndTime
	return t.InsertSleep(ctx, model.Sleep{
		ID:        seq,
		BabyID:    b.ID,
		StartTime: body.StartTime,
		EndTime:   &end,
		Kind:      body.Kind.OrNap(),
	})
}

func applyDiaperLogged(ctx context.Context, t Tables, seq int64, body ir.DiaperLogged) error {
	b, ok, err := resolveBaby(ctx, t, body.BabyID)
	if err != nil || !ok {
		return err
	}
	return t.InsertDiaper(ctx, model.Diaper{
		ID:     seq,
		BabyID: b.ID,
		Time:   body.Time,
		Kind:   body.Kind,
		Amount: body.Amount,
		Note:   body.Note,
	})
}

func applyDayStarted(ctx context.Context, t Tables, body ir.DayStarted) error {
	b, ok, err := resolveBaby(ctx, t, body.BabyID)
	if err != nil || !ok {
		return err
	}
	return t.UpsertDayStart(ctx, model.DayStart{BabyID: b.ID, Date: body.Day(), WakeTime: body.WakeTime})
}
