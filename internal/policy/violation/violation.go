// Package violation defines the policy violation categories and their severity tiers.
// Both sets are open: values read from storage or configuration that this build does not
// know about parse into the Unknown arm instead of failing.
package violation

import (
	"sort"
	"strings"
)

type (
	Type     string
	Severity string
)

const (
	Unknown Type = "unknown"

	PhoneNumber         Type = "phone_number"
	Email               Type = "email"
	SocialMediaLink     Type = "social_media_link"
	SocialMediaMention  Type = "social_media_mention"
	ExternalPayment     Type = "external_payment"
	ExternalTransaction Type = "external_transaction"
	Spam                Type = "spam"
	Harassment          Type = "harassment"
	Fraud               Type = "fraud"
)

const (
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity applies to categories missing from the policy table.
const DefaultSeverity = SeverityMedium

// Known lists the categories in canonical report order.
var Known = []Type{
	PhoneNumber,
	Email,
	SocialMediaLink,
	SocialMediaMention,
	ExternalPayment,
	ExternalTransaction,
	Spam,
	Harassment,
	Fraud,
}

var severities = map[Type]Severity{
	ExternalPayment:     SeverityCritical,
	ExternalTransaction: SeverityCritical,
	Harassment:          SeverityCritical,
	Fraud:               SeverityCritical,
	PhoneNumber:         SeverityHigh,
	Email:               SeverityHigh,
	SocialMediaLink:     SeverityHigh,
	Spam:                SeverityMedium,
	SocialMediaMention:  SeverityLow,
}

var ranks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityOf is total: unknown and future categories resolve to DefaultSeverity.
func SeverityOf(t Type) Severity {
	if s, ok := severities[t]; ok {
		return s
	}
	return DefaultSeverity
}

func ParseType(s string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t.IsKnown() {
		return t
	}
	return Unknown
}

func (t Type) IsKnown() bool {
	_, ok := severities[t]
	return ok
}

func (t Type) String() string {
	return string(t)
}

func (s Severity) String() string {
	return string(s)
}

// Rank orders severities, low=1 .. critical=4; unknown ranks as DefaultSeverity.
func (s Severity) Rank() int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return ranks[DefaultSeverity]
}

// MostSevere picks the highest-severity category; ties resolve to canonical order.
func MostSevere(types []Type) Type {
	if len(types) == 0 {
		return Unknown
	}
	sorted := Canonical(types)
	best := sorted[0]
	for _, t := range sorted[1:] {
		if SeverityOf(t).Rank() > SeverityOf(best).Rank() {
			best = t
		}
	}
	return best
}

// Canonical returns a deduplicated copy ordered by Known, with unrecognized
// categories last in lexical order.
func Canonical(types []Type) []Type {
	seen := make(map[Type]struct{}, len(types))
	out := make([]Type, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	order := make(map[Type]int, len(Known))
	for i, t := range Known {
		order[t] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, iKnown := order[out[i]]
		oj, jKnown := order[out[j]]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Join renders categories the way flag reasons are stored: canonical order, comma separated.
func Join(types []Type) string {
	canonical := Canonical(types)
	parts := make([]string, len(canonical))
	for i, t := range canonical {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Split is the inverse of Join. Empty input yields nil.
func Split(s string) []Type {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []Type
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Type(part))
	}
	return out
}
