// Package generation defines the contract between the asset pipeline and a
// generative backend, plus the helpers shared by every adapter.
//
// Backend is the four-call surface the pipeline needs: plan, image, video
// start, and video poll. AwaitVideo turns start/poll into a bounded wait
// governed by PollPolicy; TryModels walks an ordered model list and only
// falls through on "model unavailable" errors. Composite pairs a plan
// generator with a media generator so the plan provider can be chosen by
// configuration while images and video stay on one adapter.
//
// Concrete adapters live in the gemini (genai SDK) and vertex (Vertex AI SDK)
// subpackages.
package generation
