// Package relay provides a pronunciation assessment provider that posts to
// an intermediary HTTP function which holds the speech service credentials.
//
// The request is multipart/form-data with three fields: "audio" (the wave
// file), "text" (the reference text) and "languageCode". The function
// answers with the service's NBest document, optionally extended with a
// top-level finalScore.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

const defaultTimeout = 30 * time.Second

var _ assess.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithWeights sets the weights used when the function omits finalScore.
func WithWeights(w assess.Weights) Option {
	return func(p *Provider) {
		p.weights = w
	}
}

// Provider implements assess.Provider against a relay function.
type Provider struct {
	url        string
	token      string
	weights    assess.Weights
	httpClient *http.Client
}

// New creates a Provider posting to url.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("relay: url must not be empty")
	}
	p := &Provider{
		url:        url,
		weights:    assess.DefaultWeights,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.weights.Valid() {
		return nil, fmt.Errorf("relay: invalid weights %+v", p.weights)
	}
	return p, nil
}

// Assess implements assess.Provider.
func (p *Provider) Assess(ctx context.Context, req assess.Request) (*assess.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, fmt.Errorf("relay: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("relay: write audio: %w", err)
	}
	if err := mw.WriteField("text", req.ReferenceText); err != nil {
		return nil, fmt.Errorf("relay: write text field: %w", err)
	}
	if err := mw.WriteField("languageCode", req.LanguageCode); err != nil {
		return nil, fmt.Errorf("relay: write languageCode field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("relay: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &body)
	if err != nil {
		return nil, fmt.Errorf("relay: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	return assess.Do(p.httpClient, httpReq, p.weights, "relay")
}
