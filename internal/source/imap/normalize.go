package imap

import (
	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailreader/internal/model"
)

// messageFromEnvelope maps an IMAP envelope to the normalized shape.
// A nil envelope or missing fields yield empty strings. IMAP fetches carry
// no body.
func messageFromEnvelope(env *imap.Envelope) model.NormalizedMessage {
	if env == nil {
		return model.NormalizedMessage{}
	}

	msg := model.NormalizedMessage{
		MessageID: env.MessageID,
		Subject:   env.Subject,
	}
	if len(env.From) > 0 {
		msg.From = normalizeAddress(env.From[0])
	}
	if len(env.To) > 0 {
		msg.To = normalizeAddress(env.To[0])
	}
	return msg
}

// normalizeAddress renders mailbox@host, or "" when either part is missing.
func normalizeAddress(a imap.Address) string {
	if a.Mailbox == "" || a.Host == "" {
		return ""
	}
	return a.Mailbox + "@" + a.Host
}
