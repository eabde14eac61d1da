package httputil

import "time"

// HealthResponse is the standard envelope for health/liveness/readiness
// probes, distinct from Problem (used for request errors).
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func Healthy(data interface{}) HealthResponse {
	return HealthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func Unhealthy(errMsg string) HealthResponse {
	return HealthResponse{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}
