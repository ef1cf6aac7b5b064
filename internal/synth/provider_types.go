package synth

// Request shape we send to the backend.
type backendRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Error body the backend returns on non-2xx. Both shapes occur in the wild:
// {"error": "...", "details": "..."} and {"error": {"message": "...", "type": "..."}}.
type backendErrorResponse struct {
	Error   any    `json:"error"`
	Details string `json:"details"`
}

func (r backendErrorResponse) detail() string {
	var msg string
	switch e := r.Error.(type) {
	case string:
		msg = e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			msg = m
		}
	}
	switch {
	case msg != "" && r.Details != "":
		return msg + ": " + r.Details
	case msg != "":
		return msg
	default:
		return r.Details
	}
}
