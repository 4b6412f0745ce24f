// Package coeiroink provides a [tts.Provider] backed by a COEIROINK v2 engine.
//
// COEIROINK addresses voices as (speakerUuid, styleId) pairs, so requests
// need the catalogue's speaker UUID in addition to the numeric style id.
// Synthesis is a single POST /v1/predict returning WAV.
package coeiroink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 30 * time.Second
	predictPath       = "/v1/predict"
	speakersPath      = "/v1/speakers"
	maxErrorBodyBytes = 512
)

// ErrMissingSpeakerUUID is returned when a request's speaker has no UUID.
var ErrMissingSpeakerUUID = errors.New("coeiroink: speaker uuid is required")

// Option is a functional option for configuring a COEIROINK Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider for COEIROINK. Safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the engine at baseURL
// (e.g., "http://localhost:50032").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coeiroink: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Generator implements tts.Provider.
func (p *Provider) Generator() tts.Generator { return tts.GeneratorCOEIROINK }

// predictRequest is the JSON body of POST /v1/predict.
type predictRequest struct {
	SpeakerUUID   string  `json:"speakerUuid"`
	StyleID       int64   `json:"styleId"`
	Text          string  `json:"text"`
	ProsodyDetail []any   `json:"prosodyDetail"`
	SpeedScale    float64 `json:"speedScale"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Speaker.Generator != tts.GeneratorCOEIROINK {
		return nil, fmt.Errorf("coeiroink: %w: %s", tts.ErrSpeakerMismatch, req.Speaker.Generator)
	}
	if req.Speaker.SpeakerUUID == "" {
		return nil, ErrMissingSpeakerUUID
	}
	speed := req.SpeedScale
	if speed <= 0 {
		speed = 1
	}
	body, err := json.Marshal(predictRequest{
		SpeakerUUID:   req.Speaker.SpeakerUUID,
		StyleID:       req.Speaker.StyleID,
		Text:          req.Text,
		ProsodyDetail: []any{},
		SpeedScale:    speed,
	})
	if err != nil {
		return nil, fmt.Errorf("coeiroink: marshal predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coeiroink: build predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	wav, err := p.do(httpReq, "predict")
	if err != nil {
		return nil, err
	}
	audio, err := tts.DecodeWAV(wav)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorCOEIROINK, Op: "predict", Err: err}
	}
	return audio, nil
}

type speakerResponse struct {
	SpeakerName string `json:"speakerName"`
	SpeakerUUID string `json:"speakerUuid"`
	Styles      []struct {
		StyleName string `json:"styleName"`
		StyleID   int64  `json:"styleId"`
	} `json:"styles"`
}

// ListSpeakers implements tts.Provider.
func (p *Provider) ListSpeakers(ctx context.Context) ([]tts.Speaker, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+speakersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("coeiroink: build speakers request: %w", err)
	}
	body, err := p.do(httpReq, "speakers")
	if err != nil {
		return nil, err
	}
	var raw []speakerResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorCOEIROINK, Op: "speakers", Err: err}
	}
	var out []tts.Speaker
	for _, s := range raw {
		for _, st := range s.Styles {
			out = append(out, tts.Speaker{
				Generator:   tts.GeneratorCOEIROINK,
				SpeakerUUID: s.SpeakerUUID,
				StyleID:     st.StyleID,
				Name:        s.SpeakerName,
				StyleName:   st.StyleName,
			})
		}
	}
	return out, nil
}

func (p *Provider) do(req *http.Request, op string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorCOEIROINK, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &tts.BackendError{
			Generator:  tts.GeneratorCOEIROINK,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorCOEIROINK, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}
