package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/config"
)

// httpClient talks to the signing/submission gateway over HTTP. The
// gateway wraps the authority's SOAP surface; this core never sees the
// raw SOAP schema.
type httpClient struct {
	baseURL   string
	cafAPIURL string
	client    *http.Client
	log       *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) (domain.SigningClient, domain.AuthorizationService, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.AuthorityBaseURL), "/")
	if baseURL == "" {
		return nil, nil, domain.ErrInvalidConfig
	}
	c := &httpClient{
		baseURL:   baseURL,
		cafAPIURL: strings.TrimRight(strings.TrimSpace(cfg.AuthorityCAFAPIURL), "/"),
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.Named("authority"),
	}
	return c, c, nil
}

type signRequest struct {
	Payload     []byte `json:"payload"`
	CAF         []byte `json:"caf"`
	CertSubject string `json:"cert_subject"`
}

type signResponse struct {
	XML   []byte `json:"xml"`
	Stamp string `json:"stamp"`
}

func (c *httpClient) Sign(ctx context.Context, payload, cafPayload []byte, cert domain.Certificate) (domain.SignedDocument, error) {
	var resp signResponse
	err := c.post(ctx, c.baseURL+"/dte/sign", signRequest{
		Payload:     payload,
		CAF:         cafPayload,
		CertSubject: cert.Subject,
	}, &resp)
	if err != nil {
		return domain.SignedDocument{}, err
	}
	return domain.SignedDocument{XML: resp.XML, Stamp: resp.Stamp}, nil
}

type submitRequest struct {
	Envelope    []byte `json:"envelope"`
	CertSubject string `json:"cert_subject"`
}

type submitResponse struct {
	TrackID string          `json:"track_id"`
	Raw     json.RawMessage `json:"raw"`
}

func (c *httpClient) Submit(ctx context.Context, envelope []byte, cert domain.Certificate) (domain.Submission, error) {
	var resp submitResponse
	err := c.post(ctx, c.baseURL+"/dte/envelopes", submitRequest{
		Envelope:    envelope,
		CertSubject: cert.Subject,
	}, &resp)
	if err != nil {
		return domain.Submission{}, err
	}
	return domain.Submission{TrackingID: resp.TrackID, RawResponse: resp.Raw}, nil
}

type statusResponse struct {
	State  string          `json:"state"`
	Detail string          `json:"detail"`
	Raw    json.RawMessage `json:"raw"`
}

func (c *httpClient) PollStatus(ctx context.Context, trackingID string, cert domain.Certificate) (domain.StatusResult, error) {
	var resp statusResponse
	url := fmt.Sprintf("%s/dte/envelopes/%s?cert_subject=%s", c.baseURL, trackingID, cert.Subject)
	if err := c.get(ctx, url, &resp); err != nil {
		return domain.StatusResult{}, err
	}
	return domain.StatusResult{
		State:       mapRemoteState(resp.State),
		Detail:      resp.Detail,
		RawResponse: resp.Raw,
	}, nil
}

func (c *httpClient) Cancel(ctx context.Context, trackingID string, cert domain.Certificate) (domain.StatusResult, error) {
	var resp statusResponse
	err := c.post(ctx, fmt.Sprintf("%s/dte/envelopes/%s/cancel", c.baseURL, trackingID), submitRequest{
		CertSubject: cert.Subject,
	}, &resp)
	if err != nil {
		return domain.StatusResult{}, err
	}
	return domain.StatusResult{
		State:       mapRemoteState(resp.State),
		Detail:      resp.Detail,
		RawResponse: resp.Raw,
	}, nil
}

type folioBatchRequest struct {
	DocumentClass int    `json:"document_class"`
	Quantity      int64  `json:"quantity"`
	CertSubject   string `json:"cert_subject"`
}

type folioBatchResponse struct {
	CAF           []byte `json:"caf"`
	MaxAuthorized int64  `json:"max_authorized"`
	Available     int64  `json:"available"`
	IssuedAt      string `json:"issued_at"`
}

func (c *httpClient) RequestFolioBatch(ctx context.Context, documentClassCode int, quantity int64, cert domain.Certificate) (domain.FolioGrant, error) {
	if c.cafAPIURL == "" {
		return domain.FolioGrant{}, domain.ErrInvalidConfig
	}
	var resp folioBatchResponse
	err := c.post(ctx, c.cafAPIURL+"/folios", folioBatchRequest{
		DocumentClass: documentClassCode,
		Quantity:      quantity,
		CertSubject:   cert.Subject,
	}, &resp)
	if err != nil {
		return domain.FolioGrant{}, err
	}
	issuedAt, _ := time.Parse(time.RFC3339, resp.IssuedAt)
	return domain.FolioGrant{
		RawCAF:        resp.CAF,
		MaxAuthorized: resp.MaxAuthorized,
		Available:     resp.Available,
		IssuedAt:      issuedAt,
	}, nil
}

func (c *httpClient) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retried by the queue.
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: %s", domain.ErrRemoteRejected, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode authority response: %w", err)
	}
	return nil
}

func mapRemoteState(raw string) domain.RemoteState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "EPR", "ACCEPTED":
		return domain.RemoteStateAccepted
	case "RPR", "RPT", "ACCEPTED_OBJECTION", "REPARO":
		return domain.RemoteStateAcceptedObjection
	case "RCH", "RCT", "REJECTED":
		return domain.RemoteStateRejected
	case "ANC", "VOIDED", "ANULADO":
		return domain.RemoteStateVoided
	default:
		return domain.RemoteStateProcessing
	}
}
