// Package azure provides a pronunciation assessment provider backed by the
// Azure Speech short-audio REST endpoint.
//
// The whole utterance is posted as a wave body; the declared sample rate is
// taken from its header. The assessment
// parameters travel base64-encoded in the Pronunciation-Assessment header,
// and the detailed NBest response is normalised with [assess.Normalize].
//
// Usage:
//
//	p, err := azure.New(key, azure.WithRegion("westeurope"))
//	res, err := p.Assess(ctx, assess.Request{Audio: wav, ReferenceText: "hola", LanguageCode: "es-ES"})
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

const (
	defaultRegion  = "eastus"
	defaultTimeout = 30 * time.Second
	endpointPath   = "/speech/recognition/conversation/cognitiveservices/v1"
)

// Compile-time assertion that Provider implements assess.Provider.
var _ assess.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithRegion sets the Azure region, e.g. "westeurope". Defaults to "eastus".
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// WithEndpoint overrides the base URL, for sovereign clouds and tests.
// When set, the region is ignored.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithWeights sets the weights used when computing the overall score.
func WithWeights(w assess.Weights) Option {
	return func(p *Provider) {
		p.weights = w
	}
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept as given.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements assess.Provider for Azure Speech.
type Provider struct {
	key        string
	region     string
	endpoint   string
	weights    assess.Weights
	httpClient *http.Client
}

// New creates a Provider authenticating with the given subscription key.
func New(key string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	p := &Provider{
		key:        key,
		region:     defaultRegion,
		weights:    assess.DefaultWeights,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.weights.Valid() {
		return nil, fmt.Errorf("azure: invalid weights %+v", p.weights)
	}
	return p, nil
}

// assessmentParams is the JSON document carried in the
// Pronunciation-Assessment header.
type assessmentParams struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
	Dimension     string `json:"Dimension"`
	EnableMiscue  bool   `json:"EnableMiscue"`
}

// Assess implements assess.Provider.
func (p *Provider) Assess(ctx context.Context, req assess.Request) (*assess.Result, error) {
	if req.ReferenceText == "" || req.LanguageCode == "" {
		return nil, errors.New("azure: reference text and language code are required")
	}

	params, err := json.Marshal(assessmentParams{
		ReferenceText: req.ReferenceText,
		GradingSystem: "HundredMark",
		Granularity:   "Word",
		Dimension:     "Comprehensive",
		EnableMiscue:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("azure: encode assessment params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(req.LanguageCode), bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("azure: create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	httpReq.Header.Set("Content-Type", contentType(req.Audio))
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))

	return assess.Do(p.httpClient, httpReq, p.weights, "azure")
}

// contentType describes wav for the speech endpoint. Bodies without a
// readable header are declared at the default rate.
func contentType(wav []byte) string {
	rate := audio.DefaultSampleRate
	if h, err := audio.ParseHeader(wav); err == nil && h.SampleRate > 0 {
		rate = int(h.SampleRate)
	}
	return fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", rate)
}

func (p *Provider) url(language string) string {
	base := p.endpoint
	if base == "" {
		base = fmt.Sprintf("https://%s.stt.speech.microsoft.com", p.region)
	}
	q := url.Values{}
	q.Set("language", language)
	q.Set("format", "detailed")
	return base + endpointPath + "?" + q.Encode()
}
