// Package voicevox provides a [tts.Provider] backed by a VOICEVOX engine
// (https://github.com/VOICEVOX/voicevox_engine) reached over its REST API.
//
// Synthesis is a two-step exchange:
//
//  1. POST /audio_query?text=…&speaker=ID returns an accent/prosody query.
//  2. POST /synthesis?speaker=ID with that query as the JSON body returns WAV.
//
// The speaker catalogue comes from GET /speakers.
//
// Typical usage:
//
//	p, err := voicevox.New("http://localhost:50021",
//	    voicevox.WithTimeout(20*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, tts.Request{Text: "こんにちは", Speaker: spk})
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 30 * time.Second
	audioQueryPath    = "/audio_query"
	synthesisPath     = "/synthesis"
	speakersPath      = "/speakers"
	maxErrorBodyBytes = 512
)

// Option is a functional option for configuring a VOICEVOX Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider for VOICEVOX. Safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the engine at baseURL
// (e.g., "http://localhost:50021").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("voicevox: baseURL must not be empty")
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
func (p *Provider) Generator() tts.Generator { return tts.GeneratorVOICEVOX }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Speaker.Generator != tts.GeneratorVOICEVOX {
		return nil, fmt.Errorf("voicevox: %w: %s", tts.ErrSpeakerMismatch, req.Speaker.Generator)
	}
	speaker := strconv.FormatInt(req.Speaker.StyleID, 10)

	q := url.Values{}
	q.Set("text", req.Text)
	q.Set("speaker", speaker)
	query, err := p.post(ctx, "audio_query", audioQueryPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	if req.SpeedScale > 0 {
		query, err = withSpeedScale(query, req.SpeedScale)
		if err != nil {
			return nil, &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "audio_query", Err: err}
		}
	}

	wav, err := p.post(ctx, "synthesis", synthesisPath+"?speaker="+url.QueryEscape(speaker), query)
	if err != nil {
		return nil, err
	}
	audio, err := tts.DecodeWAV(wav)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "synthesis", Err: err}
	}
	return audio, nil
}

// speakerResponse mirrors one element of GET /speakers.
type speakerResponse struct {
	Name        string `json:"name"`
	SpeakerUUID string `json:"speaker_uuid"`
	Styles      []struct {
		Name string `json:"name"`
		ID   int64  `json:"id"`
	} `json:"styles"`
}

// ListSpeakers implements tts.Provider.
func (p *Provider) ListSpeakers(ctx context.Context) ([]tts.Speaker, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+speakersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox: build speakers request: %w", err)
	}
	body, err := p.do(httpReq, "speakers")
	if err != nil {
		return nil, err
	}

	var raw []speakerResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "speakers", Err: err}
	}
	var out []tts.Speaker
	for _, s := range raw {
		for _, st := range s.Styles {
			out = append(out, tts.Speaker{
				Generator:   tts.GeneratorVOICEVOX,
				SpeakerUUID: s.SpeakerUUID,
				StyleID:     st.ID,
				Name:        s.Name,
				StyleName:   st.Name,
			})
		}
	}
	return out, nil
}

func (p *Provider) post(ctx context.Context, op, pathAndQuery string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+pathAndQuery, rd)
	if err != nil {
		return nil, fmt.Errorf("voicevox: build %s request: %w", op, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return p.do(httpReq, op)
}

// do executes req and returns the body of a 2xx response. Everything else is
// reported as a *tts.BackendError.
func (p *Provider) do(req *http.Request, op string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &tts.BackendError{
			Generator:  tts.GeneratorVOICEVOX,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

// withSpeedScale rewrites the speedScale field of an audio query while
// leaving every other field untouched.
func withSpeedScale(query []byte, scale float64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(query, &fields); err != nil {
		return nil, fmt.Errorf("decode audio query: %w", err)
	}
	v, err := json.Marshal(scale)
	if err != nil {
		return nil, err
	}
	fields["speedScale"] = v
	return json.Marshal(fields)
}
