package models

// Request and response bodies of the HTTP API under /fs/api/v1. Successful
// responses are always {"data": ...}.

type ErrorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Op        string `json:"op,omitempty"`
	Path      string `json:"path,omitempty"`
	// Retryable is set for transient engine failures.
	Retryable bool `json:"retryable,omitempty"`
}

// WriteRequest carries either raw Content (base64 in JSON) or Text. When Text
// is set the file is written as text and Content is ignored.
type WriteRequest struct {
	Path     string  `json:"path"`
	Content  []byte  `json:"content,omitempty"`
	Text     *string `json:"text,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
}

type PathRequest struct {
	Path string `json:"path"`
}

type RemoveRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

type PingResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Engine    string `json:"engine"`
	Listeners int    `json:"listeners"`
}
