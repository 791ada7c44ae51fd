package openstrap

import _ "embed"

// DefaultClassifierScript is the Lua activity classifier used by
// `detect-events --lua builtin`. It mirrors the threshold classifier.
//
//go:embed examples/classify.lua
var DefaultClassifierScript string
