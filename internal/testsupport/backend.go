package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyloom/internal/generation"
	"storyloom/internal/story"
)

// ImageCall records one GenerateImage invocation.
type ImageCall struct {
	Prompt string
	// Ref is the exact pointer the caller passed.
	Ref *generation.Image
	// RefData is a copy of Ref's bytes at call time.
	RefData []byte
}

// VideoCall records one StartVideo invocation.
type VideoCall struct {
	Prompt string
	Source generation.Image
}

// FakeBackend is a scriptable generation.Backend. Images are produced as
// "image-N" byte strings in call order and videos complete after
// PendingPolls polls.
type FakeBackend struct {
	Plan         *story.Plan
	PlanErr      error
	PendingPolls int
	// NeverDone keeps every operation pending forever.
	NeverDone bool

	// FailImageAt fails the Nth GenerateImage call (1-based) with ImageErr.
	FailImageAt int
	ImageErr    error
	// FailVideoAt fails the Nth StartVideo call (1-based) with VideoErr.
	FailVideoAt int
	VideoErr    error

	// BeforeImage runs at the start of each GenerateImage call.
	BeforeImage func(ctx context.Context, call int) error

	mu          sync.Mutex
	planReqs    []generation.PlanRequest
	imageCalls  []ImageCall
	videoCalls  []VideoCall
	pollCalls   int
	pollsByName map[string]int
}

// NewFakeBackend returns a backend that serves plan.
func NewFakeBackend(plan *story.Plan) *FakeBackend {
	return &FakeBackend{Plan: plan}
}

// GeneratePlan implements generation.Backend.
func (f *FakeBackend) GeneratePlan(ctx context.Context, req generation.PlanRequest) (*story.Plan, error) {
	f.mu.Lock()
	f.planReqs = append(f.planReqs, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.PlanErr != nil {
		return nil, f.PlanErr
	}
	if f.Plan == nil {
		return nil, errors.New("fake backend: no plan scripted")
	}
	return f.Plan, nil
}

// GenerateImage implements generation.Backend.
func (f *FakeBackend) GenerateImage(ctx context.Context, prompt string, ref *generation.Image) (generation.Image, error) {
	f.mu.Lock()
	call := ImageCall{Prompt: prompt, Ref: ref}
	if ref != nil {
		call.RefData = append([]byte(nil), ref.Data...)
	}
	f.imageCalls = append(f.imageCalls, call)
	n := len(f.imageCalls)
	f.mu.Unlock()

	if f.BeforeImage != nil {
		if err := f.BeforeImage(ctx, n); err != nil {
			return generation.Image{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return generation.Image{}, err
	}
	if f.FailImageAt == n {
		if f.ImageErr != nil {
			return generation.Image{}, f.ImageErr
		}
		return generation.Image{}, fmt.Errorf("fake backend: image %d failed", n)
	}
	return generation.Image{Data: []byte(fmt.Sprintf("image-%d", n)), MIMEType: "image/png"}, nil
}

// StartVideo implements generation.Backend.
func (f *FakeBackend) StartVideo(ctx context.Context, prompt string, source generation.Image) (*generation.Operation, error) {
	f.mu.Lock()
	f.videoCalls = append(f.videoCalls, VideoCall{Prompt: prompt, Source: source})
	n := len(f.videoCalls)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FailVideoAt == n {
		if f.VideoErr != nil {
			return nil, f.VideoErr
		}
		return nil, fmt.Errorf("fake backend: video %d failed", n)
	}
	return &generation.Operation{Name: fmt.Sprintf("operations/video-%d", n)}, nil
}

// PollVideo implements generation.Backend.
func (f *FakeBackend) PollVideo(ctx context.Context, op *generation.Operation) (*generation.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.pollsByName == nil {
		f.pollsByName = make(map[string]int)
	}
	f.pollsByName[op.Name]++
	next := *op
	if f.NeverDone || f.pollsByName[op.Name] < f.PendingPolls {
		return &next, nil
	}
	next.Done = true
	next.VideoURI = "https://videos.example.test/" + op.Name + ".mp4"
	return &next, nil
}

// PlanRequests returns the recorded plan requests.
func (f *FakeBackend) PlanRequests() []generation.PlanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generation.PlanRequest(nil), f.planReqs...)
}

// ImageCalls returns the recorded image calls in order.
func (f *FakeBackend) ImageCalls() []ImageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ImageCall(nil), f.imageCalls...)
}

// VideoCalls returns the recorded video calls in order.
func (f *FakeBackend) VideoCalls() []VideoCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]VideoCall(nil), f.videoCalls...)
}

// PollCalls returns how many times PollVideo was called.
func (f *FakeBackend) PollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

// InstantPolls returns a poll policy that never sleeps.
func InstantPolls(maxAttempts int) generation.PollPolicy {
	return generation.PollPolicy{
		MaxAttempts: maxAttempts,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}
