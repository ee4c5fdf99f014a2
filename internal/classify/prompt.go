package classify

import (
	"encoding/json"
	"strings"

	"github.com/nhle/mailreader/internal/model"
)

// maxPromptBody bounds the body characters embedded in the prompt.
const maxPromptBody = 4000

const promptTemplate = `
You are an advanced email security classifier.

Your task is to classify an email into ONE category.

Categories:
- important (personal, trusted, work, real notifications)
- normal (newsletters, promotions, neutral)
- spam (phishing, scam, fraud, fake offers)

IMPORTANT RULES:
- Analyze SUBJECT and BODY together
- Look for phishing tricks:
  - fake company names
  - misleading URLs
  - HTTP links instead of HTTPS
  - urgency or fear tactics
  - credential or payment requests
- Promotions or discounts are NOT important unless explicitly requested by the user
- If suspicious → spam
- Be conservative: do NOT mark important unless clearly important

Return STRICT JSON ONLY:
{
  "category": "important|normal|spam",
  "confidence": 0-100,
  "reason": "short explanation"
}

Email:
Subject: {subject}
From: {sender}
To: {to}
Body:
{body}

Extra Signals:
{signals}
`

// BuildPrompt renders the classification prompt for msg.
func BuildPrompt(msg model.NormalizedMessage) string {
	signals, _ := json.Marshal(ExtractSignals(msg.Body))

	r := strings.NewReplacer(
		"{subject}", msg.Subject,
		"{sender}", msg.From,
		"{to}", msg.To,
		"{body}", truncateRunes(msg.Body, maxPromptBody),
		"{signals}", string(signals),
	)
	return r.Replace(promptTemplate)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
