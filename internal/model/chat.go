package model

// ChatExchange is one request/reply round trip with the assistant.
// It is built per request and never stored. Only the reply goes back to
// the browser: {"response": "..."}.
type ChatExchange struct {
	Message string `json:"-"`
	Reply   string `json:"response"`
}
