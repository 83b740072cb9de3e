package types

// ResolveRequest is the body of POST /v1/messages/resolve.
type ResolveRequest struct {
	Context UserContext `json:"context"`
}

// ResolveResponse reports where the message came from.
type ResolveResponse struct {
	Message  Message `json:"message"`
	CacheHit bool    `json:"cache_hit"`
}

// StoreRequest is the body of PUT /v1/messages.
type StoreRequest struct {
	Context UserContext `json:"context"`
	Message Message     `json:"message"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
