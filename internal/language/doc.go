// Package language resolves the story language a caller asks for into the
// English display name used in generation prompts.
//
// Callers may supply a BCP 47 tag ("es", "pt-BR"), an English name
// ("spanish"), or the language's own name ("español"). Unknown but
// well-formed names are passed through title-cased so the backend can still
// honour them.
package language
