// Package logs reads the storyloom log file for the CLI: the last N lines,
// then optionally every line appended afterwards. Lines can be narrowed to a
// single run by its identifier.
package logs
