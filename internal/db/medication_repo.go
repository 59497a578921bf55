package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"medremind/internal/types"
)

// MedicationRepository provides the minimal medication lookups needed to
// decide whether a reminder is orphaned.
type MedicationRepository struct {
	db DBTX
}

// NewMedicationRepository creates a new MedicationRepository backed by the
// given database connection (pool or transaction).
func NewMedicationRepository(db DBTX) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// GetState returns the existence and lifecycle state of a medication.
// A missing row is a definitive answer (Exists=false), not an error; only
// transport or query failures return an error, and callers must treat those
// as unknown rather than orphaned.
func (r *MedicationRepository) GetState(ctx context.Context, medicationID string) (types.MedicationState, error) {
	state := types.MedicationState{ID: medicationID}
	var active bool
	err := r.db.QueryRow(ctx,
		`SELECT active, deleted_at FROM medications WHERE id = $1`,
		medicationID,
	).Scan(&active, &state.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, types.NewAppError(types.ErrCodeInternalDB, "failed to get medication state", err)
	}
	state.Exists = true
	state.Active = active && state.DeletedAt == nil
	return state, nil
}
