package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/sitecomply/sitecomply-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return errors.Conflict("a verification with this id already exists")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: valid, expired, revoked, invalid, not_found, error",
		})

	case strings.Contains(constraint, "source_valid"):
		return errors.Validation(map[string]string{
			"source": "must be one of: portal, register, image, demo",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}
