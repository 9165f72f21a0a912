package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Admission thresholds, in characters.
const (
	DefaultMinCaseLength             = 40
	DefaultMinCaseLengthWithPreamble = 20
)

// ErrCaseTooShort is returned for case text below the admission threshold.
var ErrCaseTooShort = errors.New("case text too short")

const (
	preambleMarker = "PRIOR IMAGE ANALYSIS (ECG/X-RAY):"
	additionalData = "ADDITIONAL CLINICAL DATA:"
)

// Admission decides whether case text may enter a pipeline.
type Admission struct {
	MinLength             int
	MinLengthWithPreamble int
}

// DefaultAdmission returns the standard thresholds.
func DefaultAdmission() Admission {
	return Admission{
		MinLength:             DefaultMinCaseLength,
		MinLengthWithPreamble: DefaultMinCaseLengthWithPreamble,
	}
}

// Threshold returns the minimum length that applies to text.
func (a Admission) Threshold(text string) int {
	if HasPreamble(text) {
		return a.MinLengthWithPreamble
	}
	return a.MinLength
}

// Admit returns ErrCaseTooShort when text is shorter than its threshold.
// Augmented text is measured on the operator-supplied part only.
func (a Admission) Admit(text string) error {
	return a.admit(text, a.Threshold(text))
}

// AdmitOperatorText checks operator text that has not been merged yet. A
// pending preamble lowers the threshold the same way a merged one does.
func (a Admission) AdmitOperatorText(text string, preamblePending bool) error {
	threshold := a.MinLength
	if preamblePending {
		threshold = a.MinLengthWithPreamble
	}
	return a.admit(text, threshold)
}

func (a Admission) admit(text string, threshold int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(freeText(text)))
	if n < threshold {
		return fmt.Errorf("%w: %d characters, need at least %d", ErrCaseTooShort, n, threshold)
	}
	return nil
}

// WithPreamble frames a prior image analysis ahead of the operator's text.
func WithPreamble(analysis, text string) string {
	return preambleMarker + "\n---\n" + analysis + "\n---\n\n" + additionalData + "\n" + text
}

// HasPreamble reports whether text was built by WithPreamble.
func HasPreamble(text string) bool {
	return strings.HasPrefix(text, preambleMarker)
}

func freeText(text string) string {
	if !HasPreamble(text) {
		return text
	}
	if _, after, ok := strings.Cut(text, additionalData+"\n"); ok {
		return after
	}
	return text
}
