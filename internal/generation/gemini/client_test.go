package gemini_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"storyloom/internal/generation"
	"storyloom/internal/generation/gemini"
)

const planJSON = `{"characterModel":{"source":"a green turtle","action":"draw"},"storyAnalysis":{"hero":"Tilly","parentPrompt":"patience","coreLesson":"slow and steady","villain":"Hurry Hare","characterArc":"impatient to patient","characterPersona":"gentle"},"episodeScript":{"action":"write","scenes":[{"scene":1,"title":"Start","dialog":"Let's go!"}]},"staticKeyframes":{"action":"render","keyframes":[{"keyframe":1,"scene":1,"prompt":"Tilly at the start line"}]},"videoGeneration":{"action":"animate","clips":[{"clip":1,"input":"Static Keyframe #1","prompt":"Tilly walks"}]},"postProcessing":{"action":"combine"}}`

type contentCall struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

type videoCall struct {
	Model  string
	Prompt string
	Image  *genai.Image
	Config *genai.GenerateVideosConfig
}

// fakeAPI scripts the SDK services and records every call.
type fakeAPI struct {
	mu       sync.Mutex
	contents []contentCall
	videos   []videoCall
	polls    []string

	content func(call int, model string) (*genai.GenerateContentResponse, error)
	video   func() (*genai.GenerateVideosOperation, error)
	poll    func(name string) (*genai.GenerateVideosOperation, error)
	model   func(name string) (*genai.Model, error)
}

func (f *fakeAPI) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.contents = append(f.contents, contentCall{Model: model, Contents: contents, Config: config})
	call := len(f.contents)
	f.mu.Unlock()
	return f.content(call, model)
}

func (f *fakeAPI) GenerateVideos(_ context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	f.mu.Lock()
	f.videos = append(f.videos, videoCall{Model: model, Prompt: prompt, Image: image, Config: config})
	f.mu.Unlock()
	return f.video()
}

func (f *fakeAPI) Get(_ context.Context, model string, _ *genai.GetModelConfig) (*genai.Model, error) {
	return f.model(model)
}

func (f *fakeAPI) GetVideosOperation(_ context.Context, op *genai.GenerateVideosOperation, _ *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	f.mu.Lock()
	f.polls = append(f.polls, op.Name)
	f.mu.Unlock()
	return f.poll(op.Name)
}

func newTestClient(t *testing.T, api *fakeAPI) (*gemini.Client, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	client, err := gemini.NewClient(context.Background(), gemini.Config{APIKey: "test-key"},
		gemini.WithAPI(api, api),
		gemini.WithRetryMaxAttempts(3),
		gemini.WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, &sleeps
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
	}}}
}

func TestGeneratePlanFallsBackOnPermissionDenied(t *testing.T) {
	api := &fakeAPI{content: func(_ int, model string) (*genai.GenerateContentResponse, error) {
		if model == "gemini-2.5-pro" {
			return nil, genai.APIError{Code: http.StatusForbidden, Status: "PERMISSION_DENIED", Message: "no access"}
		}
		return textResponse(planJSON), nil
	}}
	client, sleeps := newTestClient(t, api)

	img := generation.Image{Data: []byte("drawing"), MIMEType: "image/png"}
	plan, err := client.GeneratePlan(context.Background(), generation.PlanRequest{Description: "turtle", Lesson: "patience", Language: "English", Image: &img})
	if err != nil {
		t.Fatalf("GeneratePlan returned error: %v", err)
	}
	if plan.StoryAnalysis.Hero != "Tilly" {
		t.Fatalf("unexpected hero %q", plan.StoryAnalysis.Hero)
	}
	if len(api.contents) != 2 || len(*sleeps) != 0 {
		t.Fatalf("expected 2 calls without retry sleeps, got %d/%d", len(api.contents), len(*sleeps))
	}
	first, second := api.contents[0], api.contents[1]
	if first.Model != "gemini-2.5-pro" || second.Model != "gemini-1.5-pro" {
		t.Fatalf("unexpected models %q, %q", first.Model, second.Model)
	}
	if first.Config.ResponseMIMEType != "application/json" || first.Config.ResponseSchema == nil {
		t.Fatalf("expected structured output config, got %+v", first.Config)
	}
	if first.Config.ResponseSchema.Properties["storyAnalysis"] == nil {
		t.Fatal("expected plan schema properties")
	}
	if tc := first.Config.ThinkingConfig; tc == nil || tc.ThinkingBudget == nil || *tc.ThinkingBudget != 32768 {
		t.Fatalf("expected thinking budget on gemini-2.5-pro, got %+v", first.Config.ThinkingConfig)
	}
	if second.Config.ThinkingConfig != nil {
		t.Fatal("thinking budget must only be sent to gemini-2.5-pro")
	}
	parts := first.Contents[0].Parts
	if parts[0].InlineData == nil || string(parts[0].InlineData.Data) != "drawing" {
		t.Fatalf("expected drawing as first part, got %+v", parts[0])
	}
}

func TestGeneratePlanStopsOnServerError(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL", Message: "boom"}
	}}
	client, sleeps := newTestClient(t, api)

	_, err := client.GeneratePlan(context.Background(), generation.PlanRequest{Description: "turtle", Lesson: "patience", Language: "English"})
	var statusErr *generation.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 status error, got %v", err)
	}
	for _, call := range api.contents {
		if call.Model != "gemini-2.5-pro" {
			t.Fatalf("fallback must not continue on 500, saw %q", call.Model)
		}
	}
	if len(api.contents) != 3 || len(*sleeps) != 2 {
		t.Fatalf("expected 3 attempts with 2 sleeps, got %d/%d", len(api.contents), len(*sleeps))
	}
}

func TestGeneratePlanRejectsInvalidStructure(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return textResponse(`{"characterModel":{"source":""}}`), nil
	}}
	client, _ := newTestClient(t, api)
	_, err := client.GeneratePlan(context.Background(), generation.PlanRequest{Description: "x", Lesson: "y", Language: "English"})
	if err == nil || !strings.Contains(err.Error(), "invalid story structure") {
		t.Fatalf("expected invalid structure error, got %v", err)
	}
}

func TestRetryHonoursRetryInfo(t *testing.T) {
	api := &fakeAPI{content: func(call int, _ string) (*genai.GenerateContentResponse, error) {
		if call == 1 {
			return nil, genai.APIError{
				Code:   http.StatusTooManyRequests,
				Status: "RESOURCE_EXHAUSTED",
				Details: []map[string]any{
					{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"},
				},
			}
		}
		return textResponse("Hello friend!"), nil
	}}
	client, sleeps := newTestClient(t, api)
	reply, err := client.Chat(context.Background(), "cheerful", nil, "hi")
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if reply != "Hello friend!" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Fatalf("expected one 7s sleep, got %v", *sleeps)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT", Message: "bad prompt"}
	}}
	client, sleeps := newTestClient(t, api)
	_, err := client.Chat(context.Background(), "cheerful", nil, "hi")
	if err == nil || !strings.Contains(err.Error(), "INVALID_ARGUMENT: bad prompt") {
		t.Fatalf("expected invalid argument error, got %v", err)
	}
	if len(api.contents) != 1 || len(*sleeps) != 0 {
		t.Fatalf("expected a single attempt, got %d calls", len(api.contents))
	}
}

func TestGenerateImagePlacesReferenceFirst(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("generated")}},
		}}}}}, nil
	}}
	client, _ := newTestClient(t, api)

	ref := generation.Image{Data: []byte("anchor"), MIMEType: "image/jpeg"}
	img, err := client.GenerateImage(context.Background(), "hero in a forest", &ref)
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if string(img.Data) != "generated" || img.MIMEType != "image/png" {
		t.Fatalf("unexpected image %+v", img)
	}
	call := api.contents[0]
	if call.Model != "gemini-2.5-flash-image" {
		t.Fatalf("unexpected model %q", call.Model)
	}
	parts := call.Contents[0].Parts
	if parts[0].InlineData == nil || string(parts[0].InlineData.Data) != "anchor" || parts[0].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("unexpected reference part %+v", parts[0])
	}
	if parts[1].Text != "hero in a forest" {
		t.Fatalf("expected prompt as second part, got %+v", parts[1])
	}
	if modalities := call.Config.ResponseModalities; len(modalities) != 1 || modalities[0] != "IMAGE" {
		t.Fatalf("unexpected modalities %v", modalities)
	}
}

func TestGenerateImageWithoutImagePartFails(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReason("SAFETY"),
			Content:      &genai.Content{},
		}}}, nil
	}}
	client, _ := newTestClient(t, api)
	_, err := client.GenerateImage(context.Background(), "prompt", nil)
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected no-image error with finish reason, got %v", err)
	}
}

func TestVideoStartAndPoll(t *testing.T) {
	const name = "models/veo/operations/op-1"
	const uri = "https://generativelanguage.googleapis.com/v1beta/files/v1:download?alt=media"
	api := &fakeAPI{
		video: func() (*genai.GenerateVideosOperation, error) {
			return &genai.GenerateVideosOperation{Name: name}, nil
		},
		poll: func(string) (*genai.GenerateVideosOperation, error) {
			return &genai.GenerateVideosOperation{
				Name: name,
				Done: true,
				Response: &genai.GenerateVideosResponse{GeneratedVideos: []*genai.GeneratedVideo{
					{Video: &genai.Video{URI: uri}},
				}},
			}, nil
		},
	}
	client, _ := newTestClient(t, api)

	op, err := client.StartVideo(context.Background(), "animate", generation.Image{Data: []byte("kf"), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("StartVideo returned error: %v", err)
	}
	if op.Done || op.Name != name {
		t.Fatalf("unexpected operation %+v", op)
	}
	start := api.videos[0]
	if start.Model != "veo-3.1-fast-generate-preview" || start.Prompt != "animate" {
		t.Fatalf("unexpected video call %+v", start)
	}
	if start.Config.AspectRatio != "16:9" || start.Config.Resolution != "720p" || start.Config.NumberOfVideos != 1 {
		t.Fatalf("unexpected video config %+v", start.Config)
	}
	if string(start.Image.ImageBytes) != "kf" || start.Image.MIMEType != "image/png" {
		t.Fatalf("unexpected source image %+v", start.Image)
	}

	polled, err := client.PollVideo(context.Background(), op)
	if err != nil {
		t.Fatalf("PollVideo returned error: %v", err)
	}
	if !polled.Done || len(api.polls) != 1 || api.polls[0] != name {
		t.Fatalf("unexpected poll %+v (%v)", polled, api.polls)
	}
	if polled.VideoURI != uri {
		t.Fatalf("expected keyless uri %q, got %q", uri, polled.VideoURI)
	}
}

func TestPollVideoReportsOperationError(t *testing.T) {
	api := &fakeAPI{poll: func(name string) (*genai.GenerateVideosOperation, error) {
		return &genai.GenerateVideosOperation{
			Name:  name,
			Done:  true,
			Error: map[string]any{"code": 3, "message": "prompt rejected"},
		}, nil
	}}
	client, _ := newTestClient(t, api)
	op, err := client.PollVideo(context.Background(), &generation.Operation{Name: "operations/x"})
	if err != nil {
		t.Fatalf("PollVideo returned error: %v", err)
	}
	if op.Error != "prompt rejected" {
		t.Fatalf("unexpected operation error %q", op.Error)
	}
}

func TestPollVideoReportsFilteredClip(t *testing.T) {
	api := &fakeAPI{poll: func(name string) (*genai.GenerateVideosOperation, error) {
		return &genai.GenerateVideosOperation{
			Name: name,
			Done: true,
			Response: &genai.GenerateVideosResponse{
				RAIMediaFilteredCount:   1,
				RAIMediaFilteredReasons: []string{"child safety"},
			},
		}, nil
	}}
	client, _ := newTestClient(t, api)
	op, err := client.PollVideo(context.Background(), &generation.Operation{Name: "operations/y"})
	if err != nil {
		t.Fatalf("PollVideo returned error: %v", err)
	}
	if !strings.Contains(op.Error, "child safety") {
		t.Fatalf("expected filter reason in operation error, got %q", op.Error)
	}
}

func TestChatSendsPersonaAndHistory(t *testing.T) {
	api := &fakeAPI{content: func(int, string) (*genai.GenerateContentResponse, error) {
		return textResponse("Ribbit!"), nil
	}}
	client, _ := newTestClient(t, api)
	history := []generation.ChatMessage{
		{Role: generation.RoleUser, Text: "hello"},
		{Role: generation.RoleModel, Text: "hi there"},
	}
	if _, err := client.Chat(context.Background(), "a jolly frog", history, "sing"); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	call := api.contents[0]
	if call.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected model %q", call.Model)
	}
	system := call.Config.SystemInstruction.Parts[0].Text
	if !strings.Contains(system, `Your persona is: "a jolly frog"`) {
		t.Fatalf("unexpected system instruction %q", system)
	}
	if len(call.Contents) != 3 || call.Contents[1].Role != "model" || call.Contents[2].Parts[0].Text != "sing" {
		t.Fatalf("unexpected contents %+v", call.Contents)
	}
}

func TestHealthCheck(t *testing.T) {
	api := &fakeAPI{model: func(name string) (*genai.Model, error) {
		return &genai.Model{Name: "models/" + name}, nil
	}}
	client, _ := newTestClient(t, api)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	api.model = func(string) (*genai.Model, error) {
		return nil, genai.APIError{Code: http.StatusUnauthorized, Status: "UNAUTHENTICATED"}
	}
	if err := client.HealthCheck(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 health error, got %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	client, err := gemini.NewClient(context.Background(), gemini.Config{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := client.GenerateImage(context.Background(), "x", nil); err == nil || !strings.Contains(err.Error(), "api key required") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestDefaultPlanModels(t *testing.T) {
	client, err := gemini.NewClient(context.Background(), gemini.Config{APIKey: "k"}, gemini.WithAPI(&fakeAPI{}, &fakeAPI{}))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	models := client.PlanModels()
	if len(models) != 3 || models[0] != "gemini-2.5-pro" || models[2] != "gemini-pro" {
		t.Fatalf("unexpected default chain %v", models)
	}
}
