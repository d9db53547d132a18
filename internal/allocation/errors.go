package allocation

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthorization      = errors.New("not authorized")
	ErrNoEligibleReceiver = errors.New("no eligible receiver")
	ErrTransaction        = errors.New("allocation transaction failed")
	ErrNotification       = errors.New("notification dispatch failed")
	ErrNotFound           = errors.New("not found")
)

// IsDomain reports whether err already carries one of the package sentinels.
func IsDomain(err error) bool {
	for _, target := range []error{ErrValidation, ErrAuthorization, ErrNoEligibleReceiver, ErrTransaction, ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
