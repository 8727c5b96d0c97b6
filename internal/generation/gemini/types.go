package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"storyloom/internal/generation"
	"storyloom/internal/story"
)

func userContent(parts ...*genai.Part) *genai.Content {
	return &genai.Content{Role: generation.RoleUser, Parts: parts}
}

func inlinePart(img generation.Image) *genai.Part {
	mime := img.MIMEType
	if mime == "" {
		mime = generation.DefaultImageMIMEType
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: img.Data}}
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// responseReason summarizes why a response carried no usable output.
func responseReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return "no response"
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "blocked: " + string(fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "no candidates"
	}
	if fr := resp.Candidates[0].FinishReason; fr != "" {
		return "finish_reason=" + string(fr)
	}
	return "no usable parts"
}

// toOperation maps an SDK video operation onto the pipeline handle. The
// video URI is stored without credentials.
func toOperation(op *genai.GenerateVideosOperation) *generation.Operation {
	out := &generation.Operation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		msg, _ := op.Error["message"].(string)
		out.Error = strings.TrimSpace(msg)
		if out.Error == "" {
			out.Error = fmt.Sprintf("operation error code %v", op.Error["code"])
		}
	}
	resp := op.Response
	if resp == nil {
		return out
	}
	for _, generated := range resp.GeneratedVideos {
		if generated == nil || generated.Video == nil {
			continue
		}
		if uri := strings.TrimSpace(generated.Video.URI); uri != "" {
			out.VideoURI = uri
			return out
		}
	}
	if op.Done && out.Error == "" && resp.RAIMediaFilteredCount > 0 {
		out.Error = "video filtered by safety policy"
		if len(resp.RAIMediaFilteredReasons) > 0 {
			out.Error += ": " + strings.Join(resp.RAIMediaFilteredReasons, "; ")
		}
	}
	return out
}

// toSchema converts a backend-neutral schema node into the SDK type. The
// type names are shared with the Gemini API.
func toSchema(node *story.SchemaNode) *genai.Schema {
	if node == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(node.Type),
		Description: node.Description,
		Required:    append([]string(nil), node.Required...),
		Items:       toSchema(node.Items),
	}
	if len(node.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(node.Properties))
		for name, child := range node.Properties {
			out.Properties[name] = toSchema(child)
		}
	}
	return out
}
