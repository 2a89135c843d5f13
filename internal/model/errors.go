package model

import "errors"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateExists   = errors.New("template already exists")
	ErrTemplateLocked   = errors.New("template locked by committed rows")
	ErrLastTemplate     = errors.New("cannot delete the last template")
	ErrInvalidTemplate  = errors.New("invalid template")
	ErrFieldNotFound    = errors.New("field not found")

	ErrNoFiles          = errors.New("no files selected")
	ErrTooManyFiles     = errors.New("too many files")
	ErrMappingConflict  = errors.New("mapping conflict")
	ErrMappingMissing   = errors.New("mapping missing")
	ErrSubmissionFailed = errors.New("batch submission failed")

	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptySheet        = errors.New("sheet has no header row")

	ErrRejectedNotFound = errors.New("rejected record not found")
	ErrRejectedClosed   = errors.New("rejected record already closed")
	ErrUnresolvedRows   = errors.New("unresolved rejected rows")
	ErrBatchNotFound    = errors.New("batch not found")

	ErrSessionNotFound = errors.New("session not found")
	ErrMemoryNotFound  = errors.New("memory entry not found")
	ErrInvalidFilter   = errors.New("invalid filter")
)
