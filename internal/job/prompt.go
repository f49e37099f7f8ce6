package job

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maauso/dreamreel-api/internal/apperr"
)

// Prompt length bounds, counted in runes after trimming.
const (
	MinPromptLength = 10
	MaxPromptLength = 500
)

// ValidatePrompt trims prompt and checks its length. It returns the trimmed
// prompt.
func ValidatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", apperr.Validation(apperr.CodeInvalidPrompt, "prompt is required")
	}

	n := utf8.RuneCountInString(trimmed)
	if n < MinPromptLength {
		return "", apperr.Validation(apperr.CodeInvalidPrompt,
			fmt.Sprintf("prompt must be at least %d characters", MinPromptLength))
	}
	if n > MaxPromptLength {
		return "", apperr.Validation(apperr.CodeInvalidPrompt,
			fmt.Sprintf("prompt must be at most %d characters", MaxPromptLength))
	}
	return trimmed, nil
}
