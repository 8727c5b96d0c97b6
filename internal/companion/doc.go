// Package companion runs in-character chat sessions with a story's hero.
//
// Sessions are persisted through assets.ChatStore so a conversation survives
// a restart: when a session id is not held in memory the Registry rebuilds it
// from the stored persona and message history before answering.
package companion
