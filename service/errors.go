package service

import (
	"errors"
	"restream/repository"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("access denied")
	ErrValidation    = errors.New("validation failed")
	ErrExternal      = errors.New("media server integration failed")
	ErrSessionClosed = errors.New("session already closed")
)

// notFound converts a repository miss into ErrNotFound, keeping other errors.
func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errors.Join(ErrNotFound, errors.New(what+" not found"))
	}
	return err
}

func invalid(msg string) error {
	return errors.Join(ErrValidation, errors.New(msg))
}
