package model

// NormalizedMessage is the protocol-agnostic view of a fetched mail item.
// Every mail source adapter produces exactly this shape.
type NormalizedMessage struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// Field returns the value of the named message field. Field names are
// case-sensitive; unknown names resolve to the empty string.
func (m NormalizedMessage) Field(name string) string {
	switch name {
	case "message_id":
		return m.MessageID
	case "subject":
		return m.Subject
	case "from":
		return m.From
	case "to":
		return m.To
	case "body":
		return m.Body
	}
	return ""
}
