package gameserver

// Command names understood by the game server.
const (
	CommandPing          = "ping"
	CommandLoadObs       = "load-obs"
	CommandDispatch      = "dispatch-final-action"
	CommandGetGameConfig = "get-game-config"
)

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// CommandResponse wraps every command reply.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// DispatchParams are the parameters of dispatch-final-action.
type DispatchParams struct {
	ActionStr string `json:"action_str"`
}
