// Package main hosts the storyloom CLI entrypoint and command graph.
//
// The Cobra command tree runs the story pipeline in-process (generate,
// combine, chat), inspects the persisted plans and assets, scaffolds
// configuration, and starts the HTTP API server. Configuration resolution,
// logger setup and backend construction live in the command context so
// subcommands only describe the user-facing behaviour.
//
// Add functionality to the internal packages first and surface it here
// through a dedicated command or flag.
package main
