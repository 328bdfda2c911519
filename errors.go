package differential

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("differential: no store configured")
	ErrStoreClosed = errors.New("differential: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("differential: job not found")
	ErrMachineNotFound    = errors.New("differential: machine not found")
	ErrDefinitionNotFound = errors.New("differential: service definition not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("differential: job already exists")

	// Admission errors.
	ErrMissingService  = errors.New("differential: service is required")
	ErrMissingTargetFn = errors.New("differential: target function is required")
	ErrMissingOwner    = errors.New("differential: owner hash is required")
)
