package pipeline

import (
	"strings"

	"storyloom/internal/generation"
	"storyloom/internal/language"
)

// Input is the caller-supplied story request.
type Input struct {
	Description string
	Lesson      string
	Language    string
	Image       *generation.Image
}

// HasImage reports whether a reference drawing was supplied.
func (in Input) HasImage() bool {
	return in.Image != nil && !in.Image.IsZero()
}

// Validate checks the input and resolves its language, falling back to
// defaultLanguage when none was given.
func (in Input) Validate(defaultLanguage string) (language.Language, error) {
	if strings.TrimSpace(in.Description) == "" && !in.HasImage() {
		return language.Language{}, &InvalidInputError{Field: "description", Reason: "or image is required"}
	}
	if strings.TrimSpace(in.Lesson) == "" {
		return language.Language{}, &InvalidInputError{Field: "lesson", Reason: "is required"}
	}
	if in.HasImage() {
		mime := strings.ToLower(strings.TrimSpace(in.Image.MIMEType))
		if mime == "" {
			return language.Language{}, &InvalidInputError{Field: "image", Reason: "has no mime type"}
		}
		if !strings.HasPrefix(mime, "image/") {
			return language.Language{}, &InvalidInputError{Field: "image", Reason: "mime type " + mime + " is not an image"}
		}
	}
	lang, err := language.ResolveOr(in.Language, defaultLanguage)
	if err != nil {
		return language.Language{}, &InvalidInputError{Field: "language", Reason: err.Error()}
	}
	return lang, nil
}

func (in Input) request(lang language.Language) generation.PlanRequest {
	req := generation.PlanRequest{
		Description: strings.TrimSpace(in.Description),
		Lesson:      strings.TrimSpace(in.Lesson),
		Language:    lang.Name,
	}
	if in.HasImage() {
		req.Image = in.Image
	}
	return req
}
