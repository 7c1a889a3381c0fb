package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrEmptyDocument        = errors.New("empty document")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrNoEvidenceForSection = errors.New("no evidence for section")
	ErrInternal             = errors.New("internal error")
)

var publicKinds = []error{
	ErrInvalidArgument,
	ErrNotFound,
	ErrConflict,
	ErrForbidden,
	ErrEmptyDocument,
	ErrUnsupportedFormat,
	ErrTemplateNotFound,
	ErrNoEvidenceForSection,
}

// Errorf wraps kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy sentinel carried by err, or ErrInternal.
func Kind(err error) error {
	for _, k := range publicKinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// PublicMessage returns the message that may be shown to a caller.
// Unclassified errors are reduced to the internal error kind when redact is set.
func PublicMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	if Kind(err) == ErrInternal && redact {
		return ErrInternal.Error()
	}
	return err.Error()
}
