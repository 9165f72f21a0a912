package dialogue

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ValidationError describes step input that was rejected. It never changes
// session state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validator checks one step input and returns its normalized form.
type Validator interface {
	Validate(input string) (string, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(string) (string, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(input string) (string, error) {
	return f(input)
}

// TextField validates free text by length (in characters) and pattern.
type TextField struct {
	MinLength            int
	MaxLength            int
	Pattern              *regexp.Regexp
	DisallowControlChars bool
}

// Validate implements Validator. Surrounding whitespace is trimmed.
func (v TextField) Validate(input string) (string, error) {
	s := strings.TrimSpace(input)
	n := utf8.RuneCountInString(s)

	if v.MinLength > 0 && n < v.MinLength {
		return "", fmt.Errorf("too short: minimum %d characters", v.MinLength)
	}
	if v.MaxLength > 0 && n > v.MaxLength {
		return "", fmt.Errorf("exceeds max length %d", v.MaxLength)
	}
	if v.DisallowControlChars {
		for _, r := range s {
			if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
				return "", fmt.Errorf("contains control characters")
			}
		}
	}
	if v.Pattern != nil && !v.Pattern.MatchString(s) {
		return "", fmt.Errorf("does not match required format")
	}
	return s, nil
}

// Email validates a bare e-mail address and lower-cases it.
type Email struct{}

// Validate implements Validator.
func (Email) Validate(input string) (string, error) {
	s := strings.TrimSpace(input)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndex(s, "@"):], ".") {
		return "", fmt.Errorf("not an e-mail address")
	}
	return strings.ToLower(s), nil
}

// Digits validates a number written with optional punctuation (dots, dashes,
// spaces, parentheses, slashes) and returns the bare digits.
type Digits struct {
	MinDigits int
	MaxDigits int
}

var digitPunctuation = strings.NewReplacer(".", "", "-", "", " ", "", "(", "", ")", "", "/", "", "+", "")

// Validate implements Validator.
func (v Digits) Validate(input string) (string, error) {
	s := digitPunctuation.Replace(strings.TrimSpace(input))
	if s == "" {
		return "", fmt.Errorf("no digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("must contain only digits")
		}
	}
	if len(s) < v.MinDigits || (v.MaxDigits > 0 && len(s) > v.MaxDigits) {
		if v.MinDigits == v.MaxDigits {
			return "", fmt.Errorf("must have %d digits", v.MinDigits)
		}
		return "", fmt.Errorf("must have %d to %d digits", v.MinDigits, v.MaxDigits)
	}
	return s, nil
}

// CRM validates a medical council registration: digits optionally followed
// by a state code, e.g. "123456/SP" or "123456-SP".
type CRM struct{}

var crmPattern = regexp.MustCompile(`^(\d{4,7})(?:\s*[-/ ]\s*([A-Za-z]{2}))?$`)

// Validate implements Validator.
func (CRM) Validate(input string) (string, error) {
	m := crmPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", fmt.Errorf("expected 4 to 7 digits, optionally followed by the state (123456/SP)")
	}
	if m[2] == "" {
		return m[1], nil
	}
	return m[1] + "/" + strings.ToUpper(m[2]), nil
}

// Birth date formats tried before falling back to an age.
var birthLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006", "02.01.2006"}

// MaxAge bounds an age given in years.
const MaxAge = 150

// BirthOrAge accepts a full birth date, or failing that an age in years in
// [0, MaxAge]. A date is returned as YYYY-MM-DD, an age as plain digits.
type BirthOrAge struct {
	Now func() time.Time
}

// Validate implements Validator.
func (v BirthOrAge) Validate(input string) (string, error) {
	s := strings.TrimSpace(input)
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	for _, layout := range birthLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.After(now) {
			return "", fmt.Errorf("birth date is in the future")
		}
		if t.Before(now.AddDate(-MaxAge, 0, 0)) {
			return "", fmt.Errorf("birth date implies an age above %d", MaxAge)
		}
		return t.Format("2006-01-02"), nil
	}

	s = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "years"), "y")
	age, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("expected a date (dd/mm/yyyy) or an age in years")
	}
	if age < 0 || age > MaxAge {
		return "", fmt.Errorf("age must be between 0 and %d", MaxAge)
	}
	return strconv.Itoa(age), nil
}

// Choice maps accepted answers (case-insensitive) to a canonical option.
type Choice map[string]string

// Validate implements Validator.
func (c Choice) Validate(input string) (string, error) {
	if opt, ok := c[strings.ToLower(strings.TrimSpace(input))]; ok {
		return opt, nil
	}
	return "", fmt.Errorf("not one of the offered options")
}

// ParseBirthOrAge splits a value normalized by BirthOrAge.
func ParseBirthOrAge(v string) (birth *time.Time, age *int) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return nil, &n
	}
	return nil, nil
}
