package server

import (
	"net/http"

	"github.com/switchboard-ai/switchboard/internal/transport"
)

// ServerStatus is the per-server view returned by /v1/servers.
type ServerStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	SessionID      string `json:"sessionId,omitempty"`
	OperationCount int    `json:"operationCount"`
	Error          string `json:"error,omitempty"`
}

// ToolsResponse is returned by /v1/tools.
type ToolsResponse struct {
	TotalOperations int                             `json:"totalOperations"`
	Servers         []string                        `json:"servers"`
	PerSession      map[string]int                  `json:"perSession"`
	Operations      []transport.OperationDescriptor `json:"operations"`
}

// ReconnectResponse is returned by /v1/reconnect.
type ReconnectResponse struct {
	Attempted    int      `json:"attempted"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	Disconnected int      `json:"disconnected"`
	Connected    []string `json:"connected"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	records := s.orch.Registry().Snapshot()

	out := make([]ServerStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, ServerStatus{
			Name:           rec.ServerName,
			State:          string(rec.State),
			SessionID:      rec.SessionID(),
			OperationCount: len(rec.Operations),
			Error:          rec.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	sum := s.orch.Index().Summarize()

	var ops []transport.OperationDescriptor
	for _, rec := range s.orch.Registry().Connected() {
		ops = append(ops, rec.Operations...)
	}

	writeJSON(w, http.StatusOK, ToolsResponse{
		TotalOperations: sum.TotalOperations,
		Servers:         sum.Servers,
		PerSession:      sum.PerSession,
		Operations:      ops,
	})
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	result := s.orch.ReconnectMany(r.Context(), s.configs, true)

	connected := make([]string, 0, len(result.Connected))
	for _, rec := range result.Connected {
		connected = append(connected, rec.ServerName)
	}

	writeJSON(w, http.StatusOK, ReconnectResponse{
		Attempted:    result.Attempted,
		Succeeded:    result.Succeeded,
		Failed:       result.Failed,
		Disconnected: result.Disconnected,
		Connected:    connected,
	})
}
