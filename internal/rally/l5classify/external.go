package l5classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/stroke.report/internal/httputil"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
)

// FrameSource renders one video frame as a JPEG, outlining box when it is
// non-nil.
type FrameSource interface {
	Frame(ctx context.Context, frame int, box *l1inputs.Rect) ([]byte, error)
}

// ExternalConfig configures the multimodal model strategy.
type ExternalConfig struct {
	// Endpoint is an OpenAI-compatible chat completions URL.
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// Offsets are the sampled frames relative to the event frame, ending
	// at the event frame.
	Offsets   []int
	MaxTokens int
	// IncludeHint sends the heuristic's label as a secondary hint.
	IncludeHint bool
}

// DefaultExternalConfig returns the tuned defaults without credentials.
func DefaultExternalConfig() ExternalConfig {
	return ExternalConfig{
		Endpoint:  "https://api.openai.com/v1/chat/completions",
		Model:     "gpt-4o-mini",
		Timeout:   30 * time.Second,
		Offsets:   []int{-6, -4, -2, 0},
		MaxTokens: 300,
	}
}

// maxReplyBytes bounds the response body read from the model service.
const maxReplyBytes = 1 << 20

// ExternalClassifier submits annotated frames to an external multimodal
// model, one request per event.
type ExternalClassifier struct {
	cfg    ExternalConfig
	client httputil.HTTPClient
	frames FrameSource
	hint   EventClassifier
}

// NewExternalClassifier creates the external strategy. frames may be nil,
// in which case every event degrades with ReasonNoFrames. hint, if
// non-nil and cfg.IncludeHint is set, is consulted for a secondary hint.
func NewExternalClassifier(cfg ExternalConfig, client httputil.HTTPClient, frames FrameSource, hint EventClassifier) *ExternalClassifier {
	def := DefaultExternalConfig()
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = def.Offsets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &ExternalClassifier{cfg: cfg, client: client, frames: frames, hint: hint}
}

// Name implements EventClassifier.
func (x *ExternalClassifier) Name() string { return StrategyExternal }

// Classify implements EventClassifier. Every failure returns an
// uncertain result with zero confidence and the cause as the reason.
func (x *ExternalClassifier) Classify(ctx context.Context, ev l4fusion.Event, ec *EventContext) Result {
	sampled := x.sampleFrames(ev, ec)
	if x.cfg.APIKey == "" {
		return degraded(StrategyExternal, ReasonNoCredentials, sampled, "")
	}
	if x.frames == nil {
		return degraded(StrategyExternal, ReasonNoFrames, sampled, "")
	}

	var images [][]byte
	var used []int
	for _, f := range sampled {
		var box *l1inputs.Rect
		if ec.Track != nil {
			box, _ = ec.Track.LastBoxAtOrBefore(f)
		}
		img, err := x.frames.Frame(ctx, f, box)
		if err != nil {
			tracef("event %d: frame %d unavailable: %v", ev.Frame, f, err)
			continue
		}
		images = append(images, img)
		used = append(used, f)
	}
	if len(images) == 0 {
		return degraded(StrategyExternal, ReasonNoFrames, sampled, "")
	}

	var hint *Result
	if x.cfg.IncludeHint && x.hint != nil {
		h := x.hint.Classify(ctx, ev, ec)
		hint = &h
	}

	raw, err := x.complete(ctx, x.buildRequest(ev, ec, used, images, hint))
	if err != nil {
		reason := ReasonTransport
		var se *statusError
		switch {
		case errors.As(err, &se):
			reason = fmt.Sprintf("%s %d", ReasonHTTPStatus, se.code)
		case errors.Is(err, context.Canceled):
			reason = ReasonCancelled
		case errors.Is(err, ErrEmptyResponse):
			reason = ReasonParse
		}
		opsf("external classifier: event %d (frames %d-%d) failed: %v", ev.Frame, ev.Start, ev.End, err)
		return degraded(StrategyExternal, reason, used, raw)
	}

	res, err := ParseReply(raw)
	if err != nil {
		opsf("external classifier: event %d: unparseable reply: %v", ev.Frame, err)
		return degraded(StrategyExternal, ReasonParse+": "+err.Error(), used, raw)
	}
	res.SampledFrames = used
	res.Strategy = StrategyExternal
	res.RawResponse = raw
	tracef("event %d: %s conf=%.2f", ev.Frame, res.Label, res.Confidence)
	return res
}

// sampleFrames applies the configured offsets, dropping frames before 0
// or past the end of the recording.
func (x *ExternalClassifier) sampleFrames(ev l4fusion.Event, ec *EventContext) []int {
	maxFrame := ec.Meta.MaxFrame()
	var out []int
	for _, off := range x.cfg.Offsets {
		f := ev.Frame + off
		if f < 0 || (maxFrame >= 0 && f > maxFrame) {
			continue
		}
		out = append(out, f)
	}
	return out
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You classify racket-sport strokes from a short sequence of video frames.
Reply with a single JSON object and nothing else:
{"label": "forehand" | "backhand" | "no_hit" | "uncertain", "confidence": 0.0-1.0, "contact_frame": <frame number or null>, "reason": "<short explanation>"}`

func (x *ExternalClassifier) buildRequest(ev l4fusion.Event, ec *EventContext, frames []int, images [][]byte, hint *Result) chatRequest {
	sources := make([]string, len(ev.Sources))
	for i, s := range ev.Sources {
		sources[i] = string(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Player handedness: %s. Camera: player facing %s.\n", ec.Handedness, ec.Facing)
	fmt.Fprintf(&b, "Candidate hit near frame %d, detected by: %s.\n", ev.Frame, strings.Join(sources, ", "))
	fmt.Fprintf(&b, "Frames in order: %s. The ball's last known position is outlined when available.\n", joinInts(frames))
	if hint != nil && hint.Label != LabelUncertain {
		fmt.Fprintf(&b, "A numeric elbow-trend heuristic suggests %s (confidence %.2f); treat it as a weak hint.\n", hint.Label, hint.Confidence)
	}

	parts := []contentPart{{Type: "text", Text: b.String()}}
	for _, img := range images {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}
	return chatRequest{
		Model:     x.cfg.Model,
		MaxTokens: x.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: parts},
		},
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model service returned %d: %s", e.code, e.body)
}

// complete posts the request and returns the first choice's text. On a
// non-2xx status the body is returned alongside the error.
func (x *ExternalClassifier) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.cfg.APIKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(data), &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		// Some gateways return the bare model text.
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return string(data), ErrEmptyResponse
	}
	return cr.Choices[0].Message.Content, nil
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}
