package domain

import "time"

// Certificate identifies the digital certificate used against the tax
// authority. Key material stays opaque to this core.
type Certificate struct {
	Subject string
	KeyRef  string
}

// SignedDocument is the outcome of stamping one assembled document.
type SignedDocument struct {
	XML []byte
	// Stamp is the compact authenticity seal (TED) used for printed
	// and barcode representations.
	Stamp string
}

// Submission acknowledges receipt of an envelope by the authority.
type Submission struct {
	TrackingID  string
	RawResponse []byte
}

// RemoteState is the authority-side status of a submission.
type RemoteState string

const (
	RemoteStateProcessing        RemoteState = "processing"
	RemoteStateAccepted          RemoteState = "accepted"
	RemoteStateAcceptedObjection RemoteState = "accepted_objection"
	RemoteStateRejected          RemoteState = "rejected"
	RemoteStateVoided            RemoteState = "voided"
)

// Terminal reports whether the state ends the submission lifecycle.
func (s RemoteState) Terminal() bool {
	switch s {
	case RemoteStateAccepted, RemoteStateAcceptedObjection, RemoteStateRejected, RemoteStateVoided:
		return true
	}
	return false
}

// StatusResult is one poll answer for a tracking identifier.
type StatusResult struct {
	State       RemoteState
	Detail      string
	RawResponse []byte
}

// FolioGrant is the authority's answer to a folio batch request.
type FolioGrant struct {
	RawCAF []byte
	// MaxAuthorized caps how many folios the authority will still
	// grant; zero means no further authorizations are allowed.
	MaxAuthorized int64
	Available     int64
	IssuedAt      time.Time
}
