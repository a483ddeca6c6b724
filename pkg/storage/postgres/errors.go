package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/civichub/planengine/pkg/plans"
)

// Postgres error codes the stores translate
const (
	codeUndefinedTable       = "42P01"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// translate maps driver errors onto the plans sentinels, keeping the original in the chain
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUndefinedTable:
		return errors.Join(plans.ErrResourceNotProvisioned, err)
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return errors.Join(plans.ErrConflict, err)
	}
	return err
}
