package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// modelKeyReplacer rewrites path-hostile characters out of a model label so
// it is safe to use as a directory component.
var modelKeyReplacer = strings.NewReplacer(":", "_", "/", "_", `\`, "_")

// ModelKey turns a "provider_model"-shaped label into a filesystem-safe
// directory component.
func ModelKey(label string) string {
	return modelKeyReplacer.Replace(label)
}

// normalizePrompt trims trailing whitespace and normalizes CRLF to LF so the
// prompt-hash is stable across incidental formatting differences.
func normalizePrompt(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimRight(normalized, " \t\n\r")
}

// PromptHash returns the first 16 hex characters of the SHA-256 of the
// normalized prompt text.
func PromptHash(promptText string) string {
	sum := sha256.Sum256([]byte(normalizePrompt(promptText)))
	return hex.EncodeToString(sum[:])[:16]
}

// PairHash returns the first 16 hex characters of the SHA-256 over
// "<stage>:<min(cidA,cidB)>:<max(cidA,cidB)>", making the hash independent
// of argument order.
func PairHash(stage string, cidA, cidB string) string {
	lo, hi := cidA, cidB
	if hi < lo {
		lo, hi = hi, lo
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", stage, lo, hi)))
	return hex.EncodeToString(sum[:])[:16]
}
