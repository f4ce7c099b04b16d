package domain

import "context"

// SigningClient signs and submits documents against the tax authority.
// The wire format (SOAP schema, XMLDSig envelope) is the implementation's
// concern; callers only guarantee a structurally valid payload.
type SigningClient interface {
	Sign(ctx context.Context, payload []byte, cafPayload []byte, cert Certificate) (SignedDocument, error)
	Submit(ctx context.Context, envelope []byte, cert Certificate) (Submission, error)
	PollStatus(ctx context.Context, trackingID string, cert Certificate) (StatusResult, error)
	// Cancel requests remote annulment of an accepted document.
	Cancel(ctx context.Context, trackingID string, cert Certificate) (StatusResult, error)
}

// AuthorizationService requests fresh folio ranges for a sequence.
type AuthorizationService interface {
	RequestFolioBatch(ctx context.Context, documentClassCode int, quantity int64, cert Certificate) (FolioGrant, error)
}
