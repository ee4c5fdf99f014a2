package graph

// emailAddress is the Graph emailAddress resource.
type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// recipient wraps an emailAddress as used by from and toRecipients.
type recipient struct {
	EmailAddress *emailAddress `json:"emailAddress"`
}

// message is the subset of the Graph message resource we select.
type message struct {
	ID                string      `json:"id"`
	InternetMessageID string      `json:"internetMessageId"`
	Subject           string      `json:"subject"`
	From              *recipient  `json:"from"`
	ToRecipients      []recipient `json:"toRecipients"`
	BodyPreview       string      `json:"bodyPreview"`
}

// messageList is the collection response of the messages endpoint.
type messageList struct {
	Value []message `json:"value"`
}

// errorResponse is the Graph error envelope.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
