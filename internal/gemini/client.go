// Package gemini adapts the Google generative-language SDK to the dispatch.Model boundary.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/gemini-qa/internal/credential"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/imaging"
)

const (
	// DefaultTextModel is used for streamed chat.
	DefaultTextModel = "gemini-1.5-flash-001"
	// DefaultVisionModel is used for text+image requests.
	DefaultVisionModel = "gemini-1.5-flash"
)

// ErrEmptyReply is returned when a vision response carries no text.
var ErrEmptyReply = errors.New("model returned no text")

// Config holds the settings for one client.
type Config struct {
	APIKey      string
	TextModel   string
	VisionModel string
	BaseURL     string
	HTTPClient  *http.Client
}

// Client implements dispatch.Model on top of genai.
type Client struct {
	client      *genai.Client
	textModel   string
	visionModel string
}

var _ dispatch.Model = (*Client)(nil)

// New creates a client for the Gemini API backend.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, credential.ErrMissingCredential
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{
		client:      client,
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
	}, nil
}

// StreamText opens a chat with empty history and streams the reply to prompt.
func (c *Client) StreamText(ctx context.Context, prompt string) iter.Seq2[dispatch.Chunk, error] {
	return func(yield func(dispatch.Chunk, error) bool) {
		chat, err := c.client.Chats.Create(ctx, c.textModel, nil, []*genai.Content{})
		if err != nil {
			yield(dispatch.Chunk{}, fmt.Errorf("create chat: %w", err))
			return
		}
		for resp, err := range chat.SendStream(ctx, genai.NewPartFromText(prompt)) {
			if err != nil {
				yield(dispatch.Chunk{}, err)
				return
			}
			if !yield(toChunk(resp), nil) {
				return
			}
		}
	}
}

// GenerateVision sends prompt and img in one request.
func (c *Client) GenerateVision(ctx context.Context, prompt string, img *imaging.Image) (dispatch.Reply, error) {
	if img == nil {
		return dispatch.Reply{}, dispatch.ErrMissingImage
	}
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(img.Raw, img.MIMEType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.visionModel, contents, nil)
	if err != nil {
		return dispatch.Reply{}, err
	}
	text := resp.Text()
	if text == "" {
		return dispatch.Reply{}, ErrEmptyReply
	}
	return dispatch.Reply{Text: text}, nil
}

// Ping performs one metadata request for the text model.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.textModel, nil); err != nil {
		return fmt.Errorf("get model %s: %w", c.textModel, err)
	}
	return nil
}

// toChunk keeps the first candidate's non-thought text parts.
func toChunk(resp *genai.GenerateContentResponse) dispatch.Chunk {
	if resp == nil || len(resp.Candidates) == 0 {
		return dispatch.Chunk{}
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return dispatch.Chunk{}
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return dispatch.Chunk{Text: b.String(), HasText: b.Len() > 0}
}

// Validator builds a client for the candidate key and pings the text model once.
func Validator(cfg Config) credential.Validator {
	return credential.ValidatorFunc(func(ctx context.Context, cred credential.Credential) error {
		cfg.APIKey = cred.Value()
		client, err := New(ctx, cfg)
		if err != nil {
			return err
		}
		return client.Ping(ctx)
	})
}

// NewDispatcher builds a client for cred and wraps it in a dispatcher.
func NewDispatcher(ctx context.Context, cfg Config, cred credential.Credential, opts ...dispatch.Option) (*dispatch.Dispatcher, error) {
	cfg.APIKey = cred.Value()
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return dispatch.New(client, opts...), nil
}
