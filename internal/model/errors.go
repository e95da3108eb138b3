package model

import (
	"errors"
)

// ErrorKind classifies pipeline failures by the stage that raised them.
type ErrorKind string

const (
	ErrKindExtraction  ErrorKind = "extraction"
	ErrKindFetch       ErrorKind = "fetch"
	ErrKindPersistence ErrorKind = "persistence"
)

// AcquisitionError tags an error with the pipeline stage it came from.
type AcquisitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return string(e.Kind) + " error: " + e.Err.Error()
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// ExtractionError marks err as a source-shape failure (table missing, etc).
func ExtractionError(err error) error {
	return wrapKind(ErrKindExtraction, err)
}

// FetchError marks err as a network or upstream API failure.
func FetchError(err error) error {
	return wrapKind(ErrKindFetch, err)
}

// PersistenceError marks err as a store failure.
func PersistenceError(err error) error {
	return wrapKind(ErrKindPersistence, err)
}

func wrapKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var ae *AcquisitionError
	if errors.As(err, &ae) && ae.Kind == kind {
		return err
	}
	return &AcquisitionError{Kind: kind, Err: err}
}

// IsKind reports whether any error in err's chain is an AcquisitionError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae) && ae.Kind == kind
}

func IsExtraction(err error) bool  { return IsKind(err, ErrKindExtraction) }
func IsFetch(err error) bool       { return IsKind(err, ErrKindFetch) }
func IsPersistence(err error) bool { return IsKind(err, ErrKindPersistence) }
