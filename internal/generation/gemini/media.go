package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"storyloom/internal/generation"
	"storyloom/internal/logging"
)

// Fixed clip output parameters.
const (
	videoAspectRatio = "16:9"
	videoResolution  = "720p"
)

// GenerateImage implements generation.MediaGenerator. The reference image,
// when given, is placed before the prompt text.
func (c *Client) GenerateImage(ctx context.Context, prompt string, ref *generation.Image) (generation.Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return generation.Image{}, errors.New("gemini image: prompt required")
	}
	parts := make([]*genai.Part, 0, 2)
	if ref != nil && !ref.IsZero() {
		parts = append(parts, inlinePart(*ref))
	}
	parts = append(parts, &genai.Part{Text: prompt})

	resp, err := c.generate(ctx, "gemini image", c.cfg.ImageModel,
		[]*genai.Content{userContent(parts...)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}},
	)
	if err != nil {
		return generation.Image{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return generation.Image{}, fmt.Errorf("gemini image: no valid response (%s)", responseReason(resp))
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		img := generation.NewImage(p.InlineData.Data, p.InlineData.MIMEType)
		c.logger.Debug("image generated", logging.String("mime_type", img.MIMEType), logging.Int("bytes", len(img.Data)))
		return img, nil
	}
	return generation.Image{}, fmt.Errorf("gemini image: response contained no image (%s)", responseReason(resp))
}

// StartVideo implements generation.MediaGenerator.
func (c *Client) StartVideo(ctx context.Context, prompt string, source generation.Image) (*generation.Operation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("gemini video: prompt required")
	}
	if source.IsZero() {
		return nil, errors.New("gemini video: source image required")
	}
	mime := source.MIMEType
	if mime == "" {
		mime = generation.DefaultImageMIMEType
	}
	image := &genai.Image{ImageBytes: source.Data, MIMEType: mime}
	videoCfg := &genai.GenerateVideosConfig{
		AspectRatio:    videoAspectRatio,
		Resolution:     videoResolution,
		NumberOfVideos: 1,
	}

	var op *genai.GenerateVideosOperation
	err := c.call(ctx, "gemini video", func(ctx context.Context) error {
		var err error
		op, err = c.models.GenerateVideos(ctx, c.cfg.VideoModel, prompt, image, videoCfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if op == nil || strings.TrimSpace(op.Name) == "" {
		return nil, errors.New("gemini video: response missing operation name")
	}
	c.logger.Debug("video operation started", logging.String("operation", op.Name))
	return toOperation(op), nil
}

// PollVideo implements generation.MediaGenerator.
func (c *Client) PollVideo(ctx context.Context, op *generation.Operation) (*generation.Operation, error) {
	if op == nil || strings.TrimSpace(op.Name) == "" {
		return nil, errors.New("gemini poll: operation name required")
	}
	var polled *genai.GenerateVideosOperation
	err := c.call(ctx, "gemini poll", func(ctx context.Context) error {
		var err error
		polled, err = c.operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: op.Name}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if polled == nil {
		return nil, errors.New("gemini poll: empty operation")
	}
	if polled.Name == "" {
		polled.Name = op.Name
	}
	return toOperation(polled), nil
}
