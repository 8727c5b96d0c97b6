// Package vertex generates production plans through Vertex AI using
// Application Default Credentials.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/story"
)

// GenerateFunc issues one structured-output request and returns the text.
type GenerateFunc func(ctx context.Context, model string, parts []genai.Part) (string, error)

// Generator implements generation.PlanGenerator on Vertex AI.
type Generator struct {
	client   *genai.Client
	models   []string
	logger   *slog.Logger
	generate GenerateFunc
}

// Option customizes the generator.
type Option func(*Generator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGenerateFunc replaces the SDK call (useful for tests).
func WithGenerateFunc(fn GenerateFunc) Option {
	return func(g *Generator) {
		g.generate = fn
	}
}

// New connects to Vertex AI in project/region. When a GenerateFunc option
// is supplied no SDK client is created.
func New(ctx context.Context, project, region string, models []string, opts ...Option) (*Generator, error) {
	g := &Generator{models: append([]string(nil), models...)}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "vertex")
	if len(g.models) == 0 {
		return nil, errors.New("vertex: at least one plan model is required")
	}
	if g.generate != nil {
		return g, nil
	}
	if strings.TrimSpace(project) == "" || strings.TrimSpace(region) == "" {
		return nil, errors.New("vertex: project and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, project, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	g.client = client
	g.generate = g.sdkGenerate
	return g, nil
}

// Close releases the SDK client.
func (g *Generator) Close() error {
	if g != nil && g.client != nil {
		return g.client.Close()
	}
	return nil
}

// GeneratePlan implements generation.PlanGenerator.
func (g *Generator) GeneratePlan(ctx context.Context, req generation.PlanRequest) (*story.Plan, error) {
	parts := make([]genai.Part, 0, 2)
	if req.Image != nil && !req.Image.IsZero() {
		parts = append(parts, genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data})
	}
	parts = append(parts, genai.Text(req.Prompt()))

	plan, model, err := generation.TryModels(ctx, g.models, func(ctx context.Context, model string) (*story.Plan, error) {
		g.logger.Info("requesting production plan", logging.String("model", model))
		text, err := g.generate(ctx, model, parts)
		if err != nil {
			return nil, fmt.Errorf("vertex plan: %w", err)
		}
		plan, err := story.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("vertex plan: %w", err)
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("production plan generated", logging.String("model", model))
	return plan, nil
}

func (g *Generator) sdkGenerate(ctx context.Context, model string, parts []genai.Part) (string, error) {
	m := g.client.GenerativeModel(model)
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ToGenaiSchema(story.Schema()),
		Temperature:      genai.Ptr[float32](1.0),
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	return ResponseText(resp)
}

// ResponseText joins the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("response contained no text (finish_reason=%s)", resp.Candidates[0].FinishReason)
	}
	return out, nil
}

// ToGenaiSchema converts a backend-neutral schema node into the SDK type.
func ToGenaiSchema(node *story.SchemaNode) *genai.Schema {
	if node == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(node.Type),
		Description: node.Description,
		Required:    append([]string(nil), node.Required...),
		Items:       ToGenaiSchema(node.Items),
	}
	if len(node.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(node.Properties))
		for name, child := range node.Properties {
			out.Properties[name] = ToGenaiSchema(child)
		}
	}
	return out
}

func schemaType(value string) genai.Type {
	switch value {
	case story.TypeObject:
		return genai.TypeObject
	case story.TypeArray:
		return genai.TypeArray
	case story.TypeInteger:
		return genai.TypeInteger
	case story.TypeString:
		return genai.TypeString
	default:
		return genai.TypeUnspecified
	}
}
