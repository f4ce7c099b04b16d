package pdf

import (
	"bytes"
	"context"
	"io"
)

// Provider renders the printed copy of an issued document.
type Provider interface {
	RenderDocument(ctx context.Context, data DocumentData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) RenderDocument(ctx context.Context, data DocumentData) (io.Reader, error) {
	return bytes.NewReader(nil), nil
}
