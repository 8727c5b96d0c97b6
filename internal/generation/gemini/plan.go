package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/story"
)

// thinkingModel is the only plan model that accepts a thinking budget.
const (
	thinkingModel  = "gemini-2.5-pro"
	thinkingBudget = 32768
)

// GeneratePlan implements generation.PlanGenerator.
func (c *Client) GeneratePlan(ctx context.Context, req generation.PlanRequest) (*story.Plan, error) {
	parts := make([]*genai.Part, 0, 2)
	if req.Image != nil && !req.Image.IsZero() {
		parts = append(parts, inlinePart(*req.Image))
	}
	parts = append(parts, &genai.Part{Text: req.Prompt()})
	schema := toSchema(story.Schema())

	plan, model, err := generation.TryModels(ctx, c.cfg.PlanModels, func(ctx context.Context, model string) (*story.Plan, error) {
		c.logger.Info("requesting production plan", logging.String("model", model))
		plan, err := c.generatePlanWith(ctx, model, parts, schema)
		if err != nil && generation.IsModelUnavailable(err) {
			logging.WarnWithContext(c.logger, "plan model unavailable; trying next", "plan_model_fallback",
				logging.String("model", model),
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to the next configured plan model"),
				logging.String(logging.FieldErrorHint, "grant the API key access to backend.plan_models"),
			)
		}
		return plan, err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("production plan generated",
		logging.String("model", model),
		logging.Int("keyframes", len(plan.Keyframes())),
		logging.Int("clips", len(plan.Clips())),
	)
	return plan, nil
}

func (c *Client) generatePlanWith(ctx context.Context, model string, parts []*genai.Part, schema *genai.Schema) (*story.Plan, error) {
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if model == thinkingModel {
		genCfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](thinkingBudget)}
	}
	resp, err := c.generate(ctx, "gemini plan", model, []*genai.Content{userContent(parts...)}, genCfg)
	if err != nil {
		return nil, err
	}
	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini plan: empty response (%s)", responseReason(resp))
	}
	plan, err := story.Decode(text)
	if err != nil {
		var verr *story.ValidationError
		if errors.As(err, &verr) {
			return nil, fmt.Errorf("gemini plan: invalid story structure: %w", err)
		}
		return nil, fmt.Errorf("gemini plan: %w", err)
	}
	return plan, nil
}
