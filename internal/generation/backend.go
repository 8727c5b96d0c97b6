package generation

import (
	"context"
	"errors"
	"strings"

	"storyloom/internal/story"
)

// PlanRequest carries the caller inputs for plan generation.
type PlanRequest struct {
	Description string
	Lesson      string
	Language    string
	Image       *Image
}

// Prompt renders the plan instruction for this request.
func (r PlanRequest) Prompt() string {
	return story.PlanPrompt(r.Description, r.Lesson, r.Language)
}

// Operation is a long-running video generation handle.
type Operation struct {
	Name     string
	Done     bool
	VideoURI string
	// Error carries the backend's failure message for a done operation.
	Error string
}

// Video is a completed clip location.
type Video struct {
	URI string
}

// PlanGenerator produces production plans.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (*story.Plan, error)
}

// MediaGenerator produces images and videos.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, prompt string, ref *Image) (Image, error)
	StartVideo(ctx context.Context, prompt string, source Image) (*Operation, error)
	PollVideo(ctx context.Context, op *Operation) (*Operation, error)
}

// Backend is everything the pipeline needs from a generative service.
type Backend interface {
	PlanGenerator
	MediaGenerator
}

// ChatMessage is one turn of a companion conversation. Role is "user" or
// "model".
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Chatter answers companion chat turns in character.
type Chatter interface {
	Chat(ctx context.Context, persona string, history []ChatMessage, message string) (string, error)
}

// Chat roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// PersonaInstruction renders the system instruction for a companion chat.
func PersonaInstruction(persona string) string {
	return `You are a character for a child. Your persona is: "` + strings.TrimSpace(persona) +
		`". Keep your responses friendly, simple, and in character. Never break character.`
}

// Composite pairs a plan generator with a media generator.
type Composite struct {
	plans PlanGenerator
	media MediaGenerator
}

// NewComposite returns a Backend that routes plan calls to plans and media
// calls to media.
func NewComposite(plans PlanGenerator, media MediaGenerator) *Composite {
	return &Composite{plans: plans, media: media}
}

var errNoGenerator = errors.New("generator not configured")

// GeneratePlan implements PlanGenerator.
func (c *Composite) GeneratePlan(ctx context.Context, req PlanRequest) (*story.Plan, error) {
	if c == nil || c.plans == nil {
		return nil, errNoGenerator
	}
	return c.plans.GeneratePlan(ctx, req)
}

// GenerateImage implements MediaGenerator.
func (c *Composite) GenerateImage(ctx context.Context, prompt string, ref *Image) (Image, error) {
	if c == nil || c.media == nil {
		return Image{}, errNoGenerator
	}
	return c.media.GenerateImage(ctx, prompt, ref)
}

// StartVideo implements MediaGenerator.
func (c *Composite) StartVideo(ctx context.Context, prompt string, source Image) (*Operation, error) {
	if c == nil || c.media == nil {
		return nil, errNoGenerator
	}
	return c.media.StartVideo(ctx, prompt, source)
}

// PollVideo implements MediaGenerator.
func (c *Composite) PollVideo(ctx context.Context, op *Operation) (*Operation, error) {
	if c == nil || c.media == nil {
		return nil, errNoGenerator
	}
	return c.media.PollVideo(ctx, op)
}
