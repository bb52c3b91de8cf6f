package projection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/napper/internal/store"
)

// Replay truncates the derived tables and applies every event of the log in
// seq order, all inside tx. It returns the number of events applied.
func Replay(ctx context.Context, tx *store.Tx) (int, error) {
	if err := tx.TruncateDerived(ctx); err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	events, err := tx.ReadEvents(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	for _, ev := range events {
		if err := Apply(ctx, tx, ev); err != nil {
			return 0, fmt.Errorf("replay: %w", err)
		}
	}
	return len(events), nil
}

// RebuildAll replays the full log in one transaction. Any failure rolls the
// whole rebuild back and the derived tables keep their previous contents.
func RebuildAll(ctx context.Context, s *store.Store) error {
	var applied int
	err := s.Update(ctx, func(tx *store.Tx) error {
		var err error
		applied, err = Replay(ctx, tx)
		return err
	})
	if err != nil {
		slog.Error("rebuild failed", "error", err)
		return err
	}
	slog.Info("rebuild complete", "events", applied)
	return nil
}
