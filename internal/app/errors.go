package app

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("a client with this email already exists")
	ErrNameAlreadyExists  = errors.New("a client with this name already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrProviderMismatch   = errors.New("the specified provider does not belong to the specified client")
)
