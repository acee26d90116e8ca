// Package txnid guesses a payment transaction identifier from OCR text.
//
// Payment apps label the identifier differently, so several labelled patterns are
// tried in order before falling back to any run of twelve or more digits. The
// fallback can match unrelated numbers such as phone numbers; the result is a
// hint for the payer and is always checked by an admin.
package txnid

import "regexp"

// Rule is a named pattern whose first capture group is the identifier.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

var rules = []Rule{
	{Name: "utr", Pattern: regexp.MustCompile(`(?i)UTR[:\s]*([A-Z0-9]{12,})`)},
	{Name: "transaction_id", Pattern: regexp.MustCompile(`(?i)Transaction[:\s]*ID[:\s]*([A-Z0-9]{12,})`)},
	{Name: "txn", Pattern: regexp.MustCompile(`(?i)TXN[:\s]*([A-Z0-9]{12,})`)},
	{Name: "ref", Pattern: regexp.MustCompile(`(?i)REF[:\s]*([A-Z0-9]{12,})`)},
	{Name: "upi_ref", Pattern: regexp.MustCompile(`(?i)UPI[:\s]*REF[:\s]*([A-Z0-9]{12,})`)},
	{Name: "digits", Pattern: regexp.MustCompile(`([0-9]{12,})`)},
}

// Rules returns the ordered rule set.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Find returns the identifier matched by the first matching rule.
func Find(text string) (string, bool) {
	id, _, ok := FindWithRule(text)
	return id, ok
}

// FindWithRule is Find that also reports the name of the matching rule.
func FindWithRule(text string) (id string, rule string, ok bool) {
	for _, r := range rules {
		if m := r.Pattern.FindStringSubmatch(text); len(m) > 1 {
			return m[1], r.Name, true
		}
	}
	return "", "", false
}
