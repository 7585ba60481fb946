package api

// AnalyzeRequest is the JSON body for POST /v1/analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// ExecuteRequest is the JSON body for POST /v1/execute.
type ExecuteRequest struct {
	Command string `json:"command"`
}

// FixRequest is the JSON body for POST /v1/fix.
type FixRequest struct {
	Code  string `json:"code"`
	Issue string `json:"issue"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueLength   int    `json:"queue_length"`
	Bridge        string `json:"bridge"`
}
