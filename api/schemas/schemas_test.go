package schemas_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// TestObservation_UnmarshalPartial verifies that partially absent fields decode to zero values.
func TestObservation_UnmarshalPartial(t *testing.T) {
	t.Parallel()
	raw := `{"obs_str": "Board", "game_info": {"task_description": "Merge tiles", "extra": 1}}`

	var obs schemas.Observation
	require.NoError(t, json.Unmarshal([]byte(raw), &obs))

	assert.Equal(t, "Board", obs.ObsStr)
	assert.Empty(t, obs.ObsImageStr)
	assert.False(t, obs.HasImage())
	assert.Nil(t, obs.GameInfo.PrevStateStr)
	assert.Equal(t, "Merge tiles", obs.GameInfo.TaskDescription)
}

func TestObservation_Image(t *testing.T) {
	t.Parallel()

	t.Run("no image", func(t *testing.T) {
		img, err := schemas.Observation{}.Image()
		require.NoError(t, err)
		assert.Nil(t, img)
	})

	t.Run("valid base64", func(t *testing.T) {
		payload := []byte{0xff, 0xd8, 0xff}
		obs := schemas.Observation{ObsImageStr: base64.StdEncoding.EncodeToString(payload)}
		img, err := obs.Image()
		require.NoError(t, err)
		assert.Equal(t, payload, img)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := schemas.Observation{ObsImageStr: "%%%"}.Image()
		assert.ErrorContains(t, err, "failed to decode observation image")
	})
}

// TestGameInfo_PrevStateNull verifies that a missing previous state marshals as JSON null,
// matching what game servers send on the first step.
func TestGameInfo_PrevStateNull(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(schemas.GameInfo{TaskDescription: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"prev_state_str": null, "task_description": "x"}`, string(data))
}

func TestAgentFunc(t *testing.T) {
	t.Parallel()
	var agent schemas.Agent = schemas.AgentFunc(func(_ context.Context, obs schemas.Observation) (string, error) {
		return obs.ObsStr, nil
	})
	action, err := agent.Act(context.Background(), schemas.Observation{ObsStr: "up"})
	require.NoError(t, err)
	assert.Equal(t, "up", action)
}
