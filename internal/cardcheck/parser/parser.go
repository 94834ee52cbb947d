// Package parser classifies scraped portal text into a CardStatus.
//
// Classification runs an ordered rule table; the first rule with a matching
// phrase wins. The order is a tie-break: a page that says both "expired" and
// "valid" is Expired. Portal wording changes are absorbed by editing the
// table, not the browser driver or the orchestrator.
package parser

import (
	"regexp"
	"strings"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

// Classification is what a TextClassifier read from a results page
type Classification struct {
	Status       domain.CardStatus
	HolderName   string
	CardType     string
	ExpiryDate   string
	ErrorMessage string
}

// TextClassifier turns results-page text into a status and optional fields
type TextClassifier interface {
	Classify(text string) Classification
}

// Rule maps a set of phrases to a status. Phrases match case-insensitively
// anywhere a word starts, so "valid" finds "validity" but not "invalid".
type Rule struct {
	Status  domain.CardStatus
	Phrases []string
	pattern *regexp.Regexp
}

// NewRule compiles a rule. Whitespace inside a phrase matches any run of whitespace.
func NewRule(status domain.CardStatus, phrases ...string) Rule {
	alternatives := make([]string, len(phrases))
	for i, p := range phrases {
		words := strings.Fields(p)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		alternatives[i] = strings.Join(words, `\s+`)
	}

	return Rule{
		Status:  status,
		Phrases: phrases,
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(alternatives, "|") + `)`),
	}
}

// Matches reports whether text contains any of the rule's phrases
func (r Rule) Matches(text string) bool {
	return r.pattern.MatchString(text)
}

// DefaultRules is the phrase table for the CSCS portal, in precedence order
func DefaultRules() []Rule {
	return []Rule{
		NewRule(domain.StatusExpired, "expired", "no longer valid"),
		NewRule(domain.StatusRevoked, "revoked", "cancelled"),
		NewRule(domain.StatusNotFound, "not found", "invalid card"),
		NewRule(domain.StatusValid, "valid", "active"),
	}
}

var (
	holderNamePattern = regexp.MustCompile(`(?i)\bname:\s*([^\n.,;]+)`)
	cardTypePattern   = regexp.MustCompile(`(?i)\b(?:green|red|blue|gold|black|white)\s+(?:cscs\s+)?(?:card|cscs)\b`)
	expiryPattern     = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)
)

// RuleClassifier is the TextClassifier backed by an ordered rule table
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier. With no rules it uses DefaultRules.
func NewRuleClassifier(rules ...Rule) *RuleClassifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleClassifier{rules: rules}
}

// Classify implements TextClassifier
func (c *RuleClassifier) Classify(text string) Classification {
	for _, rule := range c.rules {
		if !rule.Matches(text) {
			continue
		}

		result := Classification{Status: rule.Status}
		switch rule.Status {
		case domain.StatusValid:
			result.HolderName, result.CardType, result.ExpiryDate = ExtractFields(text)
		case domain.StatusNotFound:
			result.ErrorMessage = domain.MessageNotFound
		}
		return result
	}

	return Classification{
		Status:       domain.StatusError,
		ErrorMessage: domain.MessageUndetermined,
	}
}

// ExtractFields pulls holder name, card type and expiry date out of text.
// Any field that cannot be found is returned empty.
func ExtractFields(text string) (holderName, cardType, expiryDate string) {
	if m := holderNamePattern.FindStringSubmatch(text); m != nil {
		holderName = strings.TrimSpace(m[1])
	}
	cardType = strings.TrimSpace(cardTypePattern.FindString(text))
	if m := expiryPattern.FindStringSubmatch(text); m != nil {
		expiryDate = m[1]
	}
	return holderName, cardType, expiryDate
}
