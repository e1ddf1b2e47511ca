package services

import (
	"errors"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

var ErrBadCreds = errors.New("invalid email or password")

// storeErr keeps domain errors as they are and turns anything else from the
// store into a transient storage error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	var oos *domain.OutOfStockError
	if errors.As(err, &de) || errors.As(err, &oos) {
		return err
	}
	return domain.Transient(op, err)
}

// lookupErr is storeErr for single-record reads.
func lookupErr(op, what, id string, err error) error {
	if errors.Is(err, repos.ErrNotFound) {
		return domain.NotFound(what, id)
	}
	return storeErr(op, err)
}
