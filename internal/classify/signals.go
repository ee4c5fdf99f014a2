package classify

import (
	"regexp"
	"strings"
)

// Signals are cheap lexical hints passed to the model with each message.
type Signals struct {
	HasHTTP         bool `json:"has_http"`
	HasShortener    bool `json:"has_shortener"`
	UrgentWords     bool `json:"urgent_words"`
	CredentialWords bool `json:"credential_words"`
	FinancialWords  bool `json:"financial_words"`
}

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"]+`)

var (
	shortenerHints  = []string{"bit.ly", "tinyurl", "t.co"}
	urgentHints     = []string{"urgent", "immediately", "action required", "verify now"}
	credentialHints = []string{"password", "login", "verify account", "security check"}
	financialHints  = []string{"invoice", "payment", "crypto", "wallet", "bank"}
)

// ExtractURLs returns every http or https URL in text.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}

// ExtractSignals scans a message body.
func ExtractSignals(body string) Signals {
	lower := strings.ToLower(body)

	var s Signals
	for _, u := range ExtractURLs(body) {
		// Only lower-case scheme counts as plain HTTP.
		if strings.HasPrefix(u, "http://") {
			s.HasHTTP = true
			break
		}
	}
	s.HasShortener = containsAny(lower, shortenerHints)
	s.UrgentWords = containsAny(lower, urgentHints)
	s.CredentialWords = containsAny(lower, credentialHints)
	s.FinancialWords = containsAny(lower, financialHints)
	return s
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
