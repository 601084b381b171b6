// Package classifier detects policy violations in message text with a fixed set of
// deterministic patterns. The same text always yields the same verdict.
package classifier

import (
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
	"github.com/iamwavecut/ngtrust/internal/utils/text"
)

type Verdict struct {
	IsValid       bool             `json:"is_valid"`
	Violations    []violation.Type `json:"violations,omitempty"`
	BlockedReason string           `json:"blocked_reason,omitempty"`
}

type Classifier interface {
	Classify(content string) (Verdict, error)
}

type Patterns struct {
	extra []ExtraPattern
}

func New(extra ...ExtraPattern) *Patterns {
	return &Patterns{extra: append([]ExtraPattern(nil), extra...)}
}

var clean = Verdict{IsValid: true}

func (p *Patterns) Classify(content string) (Verdict, error) {
	if text.IsBlank(content) {
		return clean, nil
	}
	normalized := text.Normalize(content)

	var found []violation.Type
	if hasPhoneNumber(normalized) {
		found = append(found, violation.PhoneNumber)
	}
	for _, r := range builtinRules {
		if r.re.MatchString(normalized) {
			found = append(found, r.category)
		}
	}
	for _, r := range p.extra {
		if r.Regex.MatchString(normalized) {
			found = append(found, r.Category)
		}
	}
	if len(linkRe.FindAllStringIndex(normalized, -1)) > maxLinks || text.LongestRun(normalized) >= maxCharRun {
		found = append(found, violation.Spam)
	}

	if len(found) == 0 {
		return clean, nil
	}
	found = violation.Canonical(found)
	return Verdict{
		IsValid:       false,
		Violations:    found,
		BlockedReason: BlockedReason(violation.MostSevere(found)),
	}, nil
}

// ClassifyMessage applies the auto-reply exemption before classifying.
func ClassifyMessage(c Classifier, content string, isAutoReply bool) (Verdict, error) {
	if isAutoReply {
		return clean, nil
	}
	return c.Classify(content)
}

func hasPhoneNumber(normalized string) bool {
	for _, re := range notPhone {
		normalized = re.ReplaceAllString(normalized, " ; ")
	}
	for _, candidate := range phoneCandidate.FindAllString(normalized, -1) {
		n := text.CountDigits(candidate)
		if n >= minPhoneDigits && n <= maxPhoneDigits {
			return true
		}
	}
	return false
}
