package gameserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handlers serves the command protocol for one game.
type Handlers struct {
	log   *zap.Logger
	logic *Logic
}

func NewHandlers(logger *zap.Logger, logic *Logic) *Handlers {
	return &Handlers{
		log:   logger.Named("handlers"),
		logic: logic,
	}
}

// RegisterRoutes mounts /healthz and POST /api/v1/command.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/command", h.HandleCommand)
	})
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleCommand answers one protocol command. Failures are reported with
// status "error" and a non-2xx code.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	command := strings.ToLower(req.Command)
	h.log.Debug("Command", zap.String("command", command))

	switch command {
	case CommandPing:
		h.ok(w, map[string]string{"message": "pong"})
	case CommandGetGameConfig:
		h.ok(w, h.logic.GameConfig())
	case CommandLoadObs:
		obs, err := h.logic.LoadObs()
		if err != nil {
			h.log.Error("Failed to load observation", zap.Error(err))
			h.fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.ok(w, obs)
	case CommandDispatch:
		action, err := actionParam(req.Params)
		if err != nil {
			h.fail(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := h.logic.Dispatch(action)
		if err != nil {
			h.log.Error("Failed to dispatch action", zap.String("action", action), zap.Error(err))
			h.fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.ok(w, result)
	default:
		h.fail(w, http.StatusBadRequest, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

// actionParam extracts action_str. An empty string is a valid action.
func actionParam(params map[string]interface{}) (string, error) {
	raw, ok := params["action_str"]
	if !ok {
		return "", fmt.Errorf("action_str parameter is required for %s", CommandDispatch)
	}
	action, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("action_str must be a string, got %T", raw)
	}
	return action, nil
}

func (h *Handlers) ok(w http.ResponseWriter, data interface{}) {
	h.write(w, http.StatusOK, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) fail(w http.ResponseWriter, code int, msg string) {
	h.write(w, code, CommandResponse{Status: "error", Error: msg})
}

func (h *Handlers) write(w http.ResponseWriter, code int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
