package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/xraph/bastion"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bastion.ErrRuleNotFound) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, bastion.ErrInvalidRule) || errors.Is(err, bastion.ErrInvalidRequest) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, bastion.ErrCapabilityDenied) || errors.Is(err, bastion.ErrAccessDenied) {
		return forge.Forbidden(err.Error())
	}
	return err
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
