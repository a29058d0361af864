package event

// Phase identifies which half of an orchestration cycle a progress event
// belongs to.
type Phase string

const (
	PhaseConnect    Phase = "connect"
	PhaseDisconnect Phase = "disconnect"
)

// ProgressData is the data for connection.progress events: one per server
// per phase.
type ProgressData struct {
	Phase      Phase  `json:"phase"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	ServerName string `json:"serverName"`
	Status     string `json:"status"` // "ok" | "failed" | "skipped"
	Error      string `json:"error,omitempty"`
}

// CompletionData is the data for connection.completed events: one summary
// after all outcomes of a batch are known.
type CompletionData struct {
	Total            int      `json:"total"`
	Succeeded        int      `json:"succeeded"`
	Failed           int      `json:"failed"`
	Disconnected     int      `json:"disconnected"`
	ConnectedServers []string `json:"connectedServers"`
}

// OperationsUpdatedData is the data for operations.updated events, emitted
// after the resolution index is rebuilt.
type OperationsUpdatedData struct {
	OperationCount int `json:"operationCount"`
	SessionCount   int `json:"sessionCount"`
}
