package domain

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrTemplateMalformed is returned when a template's markers cannot be parsed.
	// Templates are user-supplied, so the message must be actionable, not a crash.
	ErrTemplateMalformed = errors.New("template markers are malformed")

	// ErrConversionFailed is returned for any converter-service failure
	ErrConversionFailed = errors.New("document conversion failed")

	// ErrStoreUnavailable is returned when the artifact store cannot be reached
	ErrStoreUnavailable = errors.New("artifact store unavailable")

	// ErrMailTransportFailed is returned when mail dispatch fails after retries
	ErrMailTransportFailed = errors.New("mail transport failed")

	// ErrTokenAlreadyUsed is returned when validating a token for a signed delivery
	ErrTokenAlreadyUsed = errors.New("signing token already used")

	// ErrSignatureRequired is returned when signing a delivery that has no token
	ErrSignatureRequired = errors.New("delivery does not require a signature")

	// ErrJobAlreadyClaimed is returned when a job is not in pending status anymore
	ErrJobAlreadyClaimed = errors.New("job already claimed or not pending")
)
