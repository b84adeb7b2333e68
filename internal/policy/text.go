package policy

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText trims surrounding whitespace and applies NFC normalization.
// Oracle feeds deliver the same place name in composed and decomposed forms;
// both must land in the tracking log as identical bytes.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
