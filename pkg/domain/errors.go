package domain

import "errors"

// ErrExternalService marks failures of the OCR and completion APIs. Tasks
// treat these as retryable infrastructure failures rather than bad input.
var ErrExternalService = errors.New("external service error")
