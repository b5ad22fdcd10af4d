package schemas

import (
	"encoding/base64"
	"fmt"
	"time"
)

// GameID identifies one of the games an agent can be evaluated on.
type GameID string

const (
	GameTwentyFourtyEight GameID = "twenty_fourty_eight"
	GameSuperMario        GameID = "super_mario"
	GamePokemonRed        GameID = "pokemon_red"
	GameStarCraft         GameID = "star_craft"
)

// String implements fmt.Stringer.
func (g GameID) String() string { return string(g) }

// ServerStatus is the lifecycle state of a game server as shown to the user.
type ServerStatus string

const (
	StatusQueued    ServerStatus = "queued"
	StatusLaunching ServerStatus = "launching"
	StatusRunning   ServerStatus = "running"
	StatusCompleted ServerStatus = "completed"
	StatusFailed    ServerStatus = "failed"
	StatusStopped   ServerStatus = "stopped"
)

// GameInfo is the static and slowly changing context a game attaches to every observation.
// Every field is optional; games only fill in what they know.
type GameInfo struct {
	// PrevStateStr is nil until the environment has a previous state to report.
	PrevStateStr    *string        `json:"prev_state_str"`
	TaskDescription string         `json:"task_description"`
	SkillLibrary    string         `json:"skill_library,omitempty"`
	NumActions      int            `json:"num_actions,omitempty"`
	ActionDict      map[string]any `json:"action_dict,omitempty"`
}

// Observation is the per-step record handed to an agent. It is built once per step
// by the runner and discarded after the agent has consumed it.
type Observation struct {
	ObsStr      string   `json:"obs_str"`
	ObsImageStr string   `json:"obs_image_str"`
	GameInfo    GameInfo `json:"game_info"`
}

// HasImage reports whether the observation carries an image snapshot.
func (o Observation) HasImage() bool { return o.ObsImageStr != "" }

// Image decodes the base64 image snapshot. It returns nil, nil when there is none.
func (o Observation) Image() ([]byte, error) {
	if o.ObsImageStr == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(o.ObsImageStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode observation image: %w", err)
	}
	return data, nil
}

// GameConfig describes the limits of a running game as reported by its server.
type GameConfig struct {
	GameID         GameID `json:"game_id"`
	MaxSteps       int    `json:"max_steps"`
	MaxEpisodes    int    `json:"max_episodes"`
	CurrentEpisode int    `json:"current_episode"`
	CurrentStep    int    `json:"current_step"`
}

// StepResult is the server's answer to a dispatched action.
type StepResult struct {
	Score              float64 `json:"score"`
	AvgScore           float64 `json:"avg_score"`
	IsFinished         bool    `json:"is_finished"`
	MaxEpisodesReached bool    `json:"max_episodes_reached,omitempty"`
}

// StepRecord is one line of a game's step log.
type StepRecord struct {
	Iteration    int         `json:"iteration"`
	Episode      int         `json:"episode"`
	Obs          Observation `json:"obs"`
	Action       string      `json:"action"`
	Result       StepResult  `json:"result"`
	CurrentScore float64     `json:"current_score"`
	RecordedAt   time.Time   `json:"recorded_at"`
}

// GameResults is the summary a game server writes once a game has finished.
type GameResults struct {
	GameID     GameID      `json:"game_id"`
	Score      float64     `json:"score"`
	AvgScore   float64     `json:"avg_score"`
	Episodes   int         `json:"episodes"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	StepsTimes []time.Time `json:"steps_times"`
	GameInfo   GameInfo    `json:"game_info"`
}
