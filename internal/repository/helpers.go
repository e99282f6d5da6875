package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error.
// Find* lookups use it so callers can treat an absent row as a plain nil,
// the way participant membership checks expect.
//
// Usage:
//
//	var p model.Participant
//	err := r.db.GetContext(ctx, &p, query, appointmentID, userID)
//	return HandleNotFound(&p, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
