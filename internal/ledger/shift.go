package ledger

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storyline-backend/pkg/enums"
)

// DeferPositionCheck postpones the position uniqueness check to commit on Postgres.
// SQLite has no deferrable constraints; ShiftRange never produces a duplicate there.
func (r *repository) DeferPositionCheck(ctx context.Context) error {
	if !r.isPostgres() {
		return nil
	}
	return r.db.WithContext(ctx).Exec("SET CONSTRAINTS words_position_key DEFERRED").Error
}

// ShiftRange moves every word positioned in [from, to] by delta. The range is
// parked at negative positions first and flipped back second, so no single
// statement can collide with a position still held inside the range.
func (r *repository) ShiftRange(ctx context.Context, from, to, delta int64) error {
	if from > to || delta == 0 {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Exec(
		"UPDATE words SET position = -(position + ?) WHERE position >= ? AND position <= ?",
		delta, from, to,
	).Error; err != nil {
		return fmt.Errorf("park positions [%d,%d]: %w", from, to, err)
	}
	if err := db.Exec("UPDATE words SET position = -position WHERE position < 0").Error; err != nil {
		return fmt.Errorf("restore parked positions: %w", err)
	}
	return nil
}

// LinebreakWithin reports whether a line break sits within spacing positions of position.
func (r *repository) LinebreakWithin(ctx context.Context, position, spacing int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("words").
		Where("status = ?", enums.WordStatusLinebreak).
		Where("position BETWEEN ? AND ?", position-spacing, position+spacing).
		Count(&count).Error
	return count > 0, err
}
