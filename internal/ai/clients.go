// internal/ai/clients.go
//
// Request/response contracts for the external AI collaborators consumed by
// game modules, plus an HTTP implementation. Every call is a single
// request/response; failures are returned as errors and never crash the
// hub. Handlers are responsible for phase-guarding whatever they do with
// a result, since the owning session may have moved on while the call was
// in flight.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Ranking is one judged entry, best rank first.
type Ranking struct {
	Label     string `json:"label"`
	Rank      int    `json:"rank"`
	Rationale string `json:"rationale"`
}

// Clip is synthesized speech. Duration is always populated: on synthesis
// failure it carries an estimate so UI pacing never blocks on the error.
type Clip struct {
	Audio    []byte        `json:"audio"`
	Duration time.Duration `json:"-"`
}

// Judge ranks a labelled image collage against a category.
type Judge interface {
	Judge(ctx context.Context, category string, collage []byte) ([]Ranking, error)
}

// ImageGenerator turns a text prompt into an encoded image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Synthesizer turns text into speech. On failure the returned Clip still
// carries an estimated duration alongside the error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// TextGenerator turns a prompt into generated text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Client talks JSON-over-HTTP to the collaborator service. It implements
// all four contracts.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.WithField("component", "ai"),
	}
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// Judge implements the judging contract.
func (c *Client) Judge(ctx context.Context, category string, collage []byte) ([]Ranking, error) {
	var out struct {
		Rankings []Ranking `json:"rankings"`
	}
	in := map[string]interface{}{"category": category, "collage": collage}
	if err := c.post(ctx, "/judge", in, &out); err != nil {
		return nil, err
	}
	if len(out.Rankings) == 0 {
		return nil, fmt.Errorf("/judge: empty ranking")
	}
	return out.Rankings, nil
}

// GenerateImage implements the image generation contract.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	var out struct {
		Image []byte `json:"image"`
	}
	if err := c.post(ctx, "/image", map[string]string{"prompt": prompt}, &out); err != nil {
		return nil, err
	}
	if len(out.Image) == 0 {
		return nil, fmt.Errorf("/image: empty image")
	}
	return out.Image, nil
}

// Synthesize implements the speech contract. The returned Clip carries an
// estimated duration even when synthesis fails.
func (c *Client) Synthesize(ctx context.Context, text string) (Clip, error) {
	var out struct {
		Audio      []byte `json:"audio"`
		DurationMs int64  `json:"durationMs"`
	}
	if err := c.post(ctx, "/speech", map[string]string{"text": text}, &out); err != nil {
		return Clip{Duration: EstimateSpeechDuration(text)}, err
	}
	return Clip{
		Audio:    out.Audio,
		Duration: time.Duration(out.DurationMs) * time.Millisecond,
	}, nil
}

// GenerateText implements the text generation contract.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, "/text", map[string]string{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("/text: empty completion")
	}
	return out.Text, nil
}

// EstimateSpeechDuration approximates spoken length at ~2.5 words/second,
// with a floor of one second. Used as the pacing fallback when synthesis
// fails.
func EstimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	ms := int64(float64(words) / 2.5 * 1000)
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}
