// Package config loads the OmniSwap daemon configuration from a JSON file,
// fills in defaults for unset fields and exposes typed accessors for the
// durations and secrets derived from it.
package config
