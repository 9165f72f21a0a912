// Package guard screens operator text before it is templated into model
// prompts. It looks for instruction overrides, role hijacking and chat
// template delimiters in English and Portuguese.
package guard

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Category is the kind of manipulation a rule detects.
type Category string

const (
	CategoryOverride  Category = "override"
	CategoryRole      Category = "role_hijacking"
	CategoryDelimiter Category = "delimiter"
	CategoryJailbreak Category = "jailbreak"
	CategoryEncoded   Category = "encoded"
)

// DefaultThreshold blocks text whose score reaches it.
const DefaultThreshold = 0.9

// MaxInputSize bounds the text scanned, in bytes.
const MaxInputSize = 16 * 1024

const maxEncodedCandidates = 10

type rule struct {
	re     *regexp.Regexp
	cat    Category
	weight float64
	name   string
}

var rules = []rule{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+instructions?`), CategoryOverride, 1.0, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)ignore\s+(todas\s+)?as\s+instru[çc][õo]es\s+(anteriores|acima)`), CategoryOverride, 1.0, "ignore previous instructions (pt)"},
	{regexp.MustCompile(`(?i)disregard\s+(your\s+|all\s+)?instructions?`), CategoryOverride, 1.0, "disregard instructions"},
	{regexp.MustCompile(`(?i)desconsider[ea]\s+(todas\s+)?(as\s+)?(suas\s+)?instru[çc][õo]es`), CategoryOverride, 1.0, "disregard instructions (pt)"},
	{regexp.MustCompile(`(?i)forget\s+(everything|all|your\s+instructions?)`), CategoryOverride, 0.9, "forget instructions"},
	{regexp.MustCompile(`(?i)(reveal|print|show)\s+(your\s+|the\s+)?system\s+prompt`), CategoryOverride, 0.9, "reveal system prompt"},
	{regexp.MustCompile(`(?i)new\s+instructions?:`), CategoryOverride, 0.7, "new instructions"},

	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\b`), CategoryRole, 1.0, "you are now"},
	{regexp.MustCompile(`(?i)voc[êe]\s+agora\s+[ée]\s+(um|uma|o|a)\b`), CategoryRole, 1.0, "you are now (pt)"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), CategoryRole, 0.9, "pretend to be"},
	{regexp.MustCompile(`(?i)finja\s+(ser|que\s+[ée])`), CategoryRole, 0.9, "pretend to be (pt)"},

	{regexp.MustCompile(`(?im)^\s*system\s*:`), CategoryDelimiter, 1.0, "system: prefix"},
	{regexp.MustCompile(`(?i)\[/?INST\]`), CategoryDelimiter, 1.0, "[INST] tag"},
	{regexp.MustCompile(`<\|?(system|user|assistant|im_start|im_end)\|?>`), CategoryDelimiter, 1.0, "chat template tag"},
	{regexp.MustCompile(`(?i)</?system>`), CategoryDelimiter, 0.9, "<system> tag"},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant)\b`), CategoryDelimiter, 0.9, "### delimiter"},

	{regexp.MustCompile(`(?i)\bDAN\s+(mode|prompt)`), CategoryJailbreak, 0.9, "DAN mode"},
	{regexp.MustCompile(`(?i)bypass\s+(your\s+|the\s+)?(filters?|restrictions?|safety)`), CategoryJailbreak, 0.9, "bypass safety"},
	{regexp.MustCompile(`(?i)developer\s+mode`), CategoryJailbreak, 0.7, "developer mode"},
}

var (
	spaceRun       = regexp.MustCompile(`[ \t]+`)
	base64Run      = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)
	zeroWidthChars = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\u00ad", "", "\u2060", "")
)

// Result is the outcome of screening one text.
type Result struct {
	Blocked  bool
	Score    float64
	Category Category
	Matched  []string
}

// Guard screens text against the rule set.
type Guard struct {
	threshold float64
}

// New creates a Guard. A threshold <= 0 uses DefaultThreshold.
func New(threshold float64) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{threshold: threshold}
}

// Screen scores text. The score is the heaviest matching rule plus 0.1 for
// each further match, capped at 1.
func (g *Guard) Screen(text string) Result {
	if len(text) > MaxInputSize {
		text = text[:MaxInputSize]
	}
	if text == "" {
		return Result{}
	}

	res := match(normalize(text))
	if len(res.Matched) == 0 {
		res = matchEncoded(text)
	}
	res.Blocked = len(res.Matched) > 0 && res.Score >= g.threshold
	return res
}

func normalize(text string) string {
	return spaceRun.ReplaceAllString(zeroWidthChars.Replace(text), " ")
}

func match(text string) Result {
	var res Result
	for _, r := range rules {
		if !r.re.MatchString(text) {
			continue
		}
		res.Matched = append(res.Matched, r.name)
		if r.weight > res.Score {
			res.Score = r.weight
			res.Category = r.cat
		}
	}
	if n := len(res.Matched); n > 1 {
		res.Score = min(1.0, res.Score+0.1*float64(n-1))
	}
	return res
}

// matchEncoded decodes base64-looking runs and screens their content.
func matchEncoded(text string) Result {
	for _, candidate := range base64Run.FindAllString(text, maxEncodedCandidates) {
		decoded, err := base64.StdEncoding.DecodeString(candidate)
		if err != nil {
			continue
		}
		if inner := match(normalize(string(decoded))); len(inner.Matched) > 0 {
			res := Result{Score: 0.95, Category: CategoryEncoded}
			for _, m := range inner.Matched {
				res.Matched = append(res.Matched, "base64: "+m)
			}
			return res
		}
	}
	return Result{}
}
