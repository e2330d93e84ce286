package ledger

import (
	"context"
	"fmt"
)

const sequenceName = "words"

// NextPosition advances the shared position counter and returns the new value.
// The UPDATE takes the row lock, so concurrent publishers serialize here until commit.
func (r *repository) NextPosition(ctx context.Context) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Exec("UPDATE position_sequences SET value = value + 1 WHERE name = ?", sequenceName)
	if res.Error != nil {
		return 0, fmt.Errorf("advance position sequence: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("position sequence %q missing", sequenceName)
	}
	var value int64
	if err := db.Raw("SELECT value FROM position_sequences WHERE name = ?", sequenceName).Scan(&value).Error; err != nil {
		return 0, fmt.Errorf("read position sequence: %w", err)
	}
	return value, nil
}

func (r *repository) MaxPosition(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(position), 0) FROM words WHERE position > 0").
		Scan(&max).Error
	return max, err
}

// RaiseSequence moves the counter up to the highest held position so the next
// publish lands after words shifted by an insertion.
func (r *repository) RaiseSequence(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE position_sequences
		SET value = (SELECT COALESCE(MAX(position), 0) FROM words)
		WHERE name = ? AND value < (SELECT COALESCE(MAX(position), 0) FROM words)`,
		sequenceName,
	).Error
}
