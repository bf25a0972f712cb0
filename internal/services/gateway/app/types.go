package app

type errorResponse struct {
	Error string `json:"error"`
}

type retryResponse struct {
	State string `json:"state"`
}

type healthStatus struct {
	Status       string          `json:"status"`
	State        string          `json:"state"`
	Error        string          `json:"error,omitempty"`
	Dependencies map[string]bool `json:"dependencies,omitempty"`
}

type readyResponse struct {
	Ready bool `json:"ready"`
}
