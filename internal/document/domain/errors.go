package domain

import "errors"

var (
	// ErrDocumentClassMismatch means the transaction content does not
	// fit the requested document class (taxed lines on an exempt
	// class, a note class without note content, and so on).
	ErrDocumentClassMismatch = errors.New("document_class_mismatch")
	// ErrMissingReference means a note class was requested without a
	// reference to the document it corrects.
	ErrMissingReference = errors.New("missing_reference")
	// ErrInvalidGlobalAdjustment means a global discount or surcharge
	// is non-positive or drives a base negative.
	ErrInvalidGlobalAdjustment = errors.New("invalid_global_adjustment")
	// ErrUnknownDocumentClass means the authority code has no class
	// definition.
	ErrUnknownDocumentClass = errors.New("unknown_document_class")
	// ErrInvalidReceiver means the receiver is missing required
	// identification for the document class.
	ErrInvalidReceiver = errors.New("invalid_receiver")
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document_not_found")
	// ErrNotCancellable means the document state does not admit
	// cancellation.
	ErrNotCancellable = errors.New("document_not_cancellable")
)
