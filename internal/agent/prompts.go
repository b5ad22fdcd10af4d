package agent

import (
	"strings"
	"text/template"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// promptData is the input to every prompt template.
type promptData struct {
	TaskDescription string
	PrevState       string
	LastAction      string
	CurrentState    string
	ValidActions    string
	NumActions      int
	SkillLibrary    string
	// Notes holds the sections produced by earlier stages, keyed by stage name.
	Notes map[string]string
}

// stage is an auxiliary model call whose parsed output feeds the action prompt.
type stage struct {
	name   string
	system string
	user   *template.Template
	// sections are the "### <name>" blocks kept from the reply, joined as "name: text".
	sections []string
	// fallback is used when the call fails or returns none of the sections.
	fallback string
	// skipFirst returns skipNote instead of calling the model on the first step.
	skipFirst bool
	skipNote  string
}

// promptSet holds everything an LLM agent needs to talk about one game.
type promptSet struct {
	system string
	user   *template.Template
	// stages run before the action prompt, in order.
	stages []stage
	// initialLastAction is shown before the agent has acted.
	initialLastAction string
	// initialPrevState is shown before the agent has seen a state.
	initialPrevState string
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(strings.TrimLeft(text, "\n")))
}

func render(t *template.Template, data promptData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// promptsFor returns the prompt set of a game.
func promptsFor(id schemas.GameID) (promptSet, bool) {
	p, ok := gamePrompts[id]
	return p, ok
}

var gamePrompts = map[schemas.GameID]promptSet{
	schemas.GameTwentyFourtyEight: {
		system:            twentyFortyEightSystem,
		user:              mustTemplate("2048.user", twentyFortyEightUser),
		initialLastAction: "No action yet",
		initialPrevState:  "N/A",
	},
	schemas.GameSuperMario: {
		system: marioActionSystem,
		user:   mustTemplate("mario.user", marioActionUser),
		stages: []stage{
			{
				name:      "critique",
				system:    marioReflectionSystem,
				user:      mustTemplate("mario.reflection", marioReflectionUser),
				sections:  []string{"Critique"},
				fallback:  "No specific critique for the last action.",
				skipFirst: true,
				skipNote:  "N/A (first step)",
			},
			{
				name:     "strategy",
				system:   marioPlanningSystem,
				user:     mustTemplate("mario.planning", marioPlanningUser),
				sections: []string{"Cautions", "Subtask"},
				fallback: "Cautions: No specific cautions.\nSubtask: Continue moving forward toward the flagpole.",
			},
		},
		initialLastAction: "N/A",
		initialPrevState:  "N/A",
	},
	schemas.GamePokemonRed: {
		system:            pokemonSystem,
		user:              mustTemplate("pokemon.user", pokemonUser),
		initialLastAction: "a",
		initialPrevState:  "N/A",
	},
	schemas.GameStarCraft: {
		system:            starCraftSystem,
		user:              mustTemplate("starcraft.user", starCraftUser),
		initialLastAction: "N/A",
		initialPrevState:  "N/A",
	},
}

const correctiveNote = `

Your previous reply could not be parsed into a valid action. Valid actions are:
%s
Reply again using exactly the requested output format.`

// -- 2048 --

const twentyFortyEightSystem = `You are an expert AI agent specialized in playing the 2048 game with advanced strategic reasoning.
Your primary goal is to achieve the highest possible tile value while maintaining long-term playability by preserving the flexibility of the board and avoiding premature game over.

### 2048 Game Rules ###
1. The game is played on a 4x4 grid. Tiles slide in one of four directions: 'up', 'down', 'left', or 'right'.
2. Only two **consecutive tiles** with the SAME value can merge. Merges cannot occur across empty tiles.
3. **Merging is directional**:
   - Row-based merges occur on 'left' or 'right' actions.
   - Column-based merges occur on 'up' or 'down' actions.
4. **All tiles first slide in the chosen direction as far as possible**, then merges are applied.
5. **A tile can merge only once per move**. When multiple same-value tiles are aligned (e.g., [2, 2, 2, 2]), merges proceed from the movement direction. For example:
   - [2, 2, 2, 2] with 'left' results in [4, 4, 0, 0].
   - [2, 2, 2, 0] with 'left' results in [4, 2, 0, 0].
6. An action is only valid if it causes at least one tile to slide or merge. Otherwise, the action is ignored, and no new tile is spawned.
7. After every valid action, a new tile (usually **90 percent chance of 2, 10 percent chance of 4**) appears in a random empty cell.
8. The game ends when the board is full and no valid merges are possible.
9. Score increases only when merges occur, and the increase equals the value of the new tile created from the merge.

### Decision Output Format ###
Analyze the provided game state and determine the **single most optimal action** to take next.
Return your decision in the following exact format:
### Reasoning
<a detailed summary of why this action was chosen>
### Actions
<up, right, left, or down>

Ensure that:
- The '### Reasoning' field provides a clear explanation of why the action is the best choice, including analysis of current tile positions, merge opportunities, and future flexibility.
- The '### Actions' field contains only one of the four valid directions.`

const twentyFortyEightUser = `
### Target task
{{.TaskDescription}}

### Previous state
{{.PrevState}}

### Last executed action
{{.LastAction}}

### Current state
{{.CurrentState}}

You should only respond in the format described below, and you should not output comments or other information.
Provide your response in the strict format:
### Reasoning
<a detailed summary of why this action was chosen>
### Actions
<direction>
`

// -- Super Mario --

const marioRules = `GAME RULES
- *Reach the Flag*: Navigate through the level and reach the flagpole before time runs out
- *Avoid Enemies*: Defeat or bypass enemies using jumps or power-ups
- *Collect Power-ups*: Gain abilities by collecting mushrooms and flowers. When powered-up, collisions with enemies reduce size instead of causing death
- *Preserve Lives*: Avoid hazards such as pits and enemies to stay alive

Object Descriptions
- Bricks: Breakable blocks; may contain items or coins (Size: 16x16)
- Question Blocks: Reveal coins or power-ups when hit; deactivate after use (Size: 16x16)
- Pit: Falling in results in losing a life
- Warp Pipe: Raised above the ground, so Mario must jump over them when it appear in front (Size: 30xHeight(y))
- Monster Goomba: Basic enemy; can be defeated by jumping on it (Size: 16x16)
- Monster Koopa: Turtle enemy; retreats into shell when jumped on (Size: 20x24)
- Item Mushroom: Grows Mario larger, grants protection (Size: 16x16)
- Stairs: Used to ascend/descend terrain
- Flag: Touch to complete the level
- Ground: the ground level in the game is y=32

Action Descriptions
- Mario (Size: 15x13) continuously moves to the right at a fixed speed
- You must choose an appropriate jump level to respond to upcoming obstacles
- Each jump level determines both how far Mario jumps horizontally (x distance) and how high Mario reaches at the peak of the jump (y height)
- Jump Levels (values based on flat ground jumps):
    - Level 0: +0 in x, +0 in y (No jump, just walk)
    - Level 1: +42 in x, +35 in y
    - Level 2: +56 in x, +46 in y
    - Level 3: +63 in x, +53 in y
    - Level 4: +70 in x, +60 in y
    - Level 5: +77 in x, +65 in y
    - Level 6: +84 in x, +68 in y
    - Note: jumping from elevated platforms or into mid-air obstacles changes the actual trajectory.
- Use higher levels to jump over taller or farther obstacles, and consider the size of Mario and objects
- While jumping, Mario follows a parabolic arc, so he can be blocked by objects mid-air or be defeated by airborne enemies
- Mario can step on top of bricks, blocks, warp pipes, and stairs

The game state is expressed in the following format:
Position of Mario: (x, y)
Position of all objects:
- Bricks: [(x1, y1), (x2, y2), ...]
- Question Blocks: [(x1, y1), ...]
- Inactivated Blocks: [(x1, y1), ...]
- Monster Goombas: [(x1, y1), ...]
- Monster Koopas: [(x1, y1), ...]
- Pit: start at (x1, y1), end at (x2, y2)
- Warp Pipes: [(x1, y1, height), ...]
- Item Mushrooms: [(x1, y1), ...]
- Stair Blocks: [(x1, y1), ...]
- Flag: (x, y)
(Note: All (x, y) positions refer to the top-left corner of each object)`

const marioReflectionSystem = `You are an AI assistant that assesses the progress of playing Super Mario and provides useful guidance.

` + marioRules + `

You will receive the past game state, Mario's past action, and the current game state.
Your job is to evaluate Mario's past actions and provide critiques for improving his action or avoiding potential dangers.

You should only respond in the format as described below:
### Critique
[Describe critique here]`

const marioReflectionUser = `
### Past Game State
{{.PrevState}}

### Past Mario Action
{{.LastAction}}

### Current Game State
{{.CurrentState}}
`

const marioPlanningSystem = `You are an AI assistant for the Super Mario game. Your role is to plan long-term actions for Mario based on the given game state.

` + marioRules + `

You will receive the current game state and a critique of Mario's last action.
Analyze the state and figure out a safe and efficient long-term path forward, avoiding obstacles whenever possible.

You MUST only respond in the format as below:
### Cautions
[List any dangers or things to avoid here]

### Subtask
[Describe specific intermediate plans or steps Mario should take to reach the flagpole]`

const marioPlanningUser = `
### Game State
{{.CurrentState}}

### Last Action Critique
{{index .Notes "critique"}}
`

const marioActionSystem = `You are an AI assistant playing the Super Mario game. Your goal is to reach the flagpole at the end of each level without dying by avoiding obstacles, collecting power-ups, and defeating/avoiding enemies.

` + marioRules + `

You should respond with
Explain (if applicable): Why you choose the jump level
Jump Level: n (where n is an integer from 0 to 6, indicating the chosen jump level)

You MUST only respond in the format with the prefix '### Actions' as below:

### Actions
Explain: ...
Jump Level: n

EXAMPLE

Input:
### Game State
Position of Mario: (100, 40)
Positions of all objects:
- Monster Goombas: (140, 40)

Output:
### Actions
Explain: Goomba is 40 units ahead on flat ground, a level 1 jump (+42 X) is sufficient to jump over or stomp it.
Jump Level: 1`

const marioActionUser = `
### Last Action Critique
{{index .Notes "critique"}}

### Mid-term Playing Strategy
{{index .Notes "strategy"}}

### Game State
{{.CurrentState}}
`

// -- Pokemon Red --

const pokemonSystem = `You are a concise Pokemon Red navigation assistant. Choose valid Game Boy button presses to progress the story efficiently (reach early-game milestones).

Allowed buttons (lowercase): up, down, left, right, a, b, start, select.
Return 1-3 buttons separated by spaces, no explanations. Avoid invalid text.

Guidelines:
- Title/Dialog: press 'a' to advance. If a selection box is visible, move cursor then 'a'.
- Field movement: move toward objectives or warp points; explore '?' tiles; avoid walls ('X', 'Cut', barriers).
- Battles: prefer 'a' to confirm default moves; if clearly losing, use 'b' then 'a' to try to flee.`

const pokemonUser = `
### Current Observation
{{.CurrentState}}

### Last Action
{{.LastAction}}
{{if .SkillLibrary}}
### Skill Library
{{.SkillLibrary}}
{{end}}
Remember: output only space-separated buttons from [up, down, left, right, a, b, start, select]. Avoid other text.
`

// -- StarCraft II --

const starCraftSystem = `You are a Protoss macro strategist for StarCraft II.
Given structured summaries, output exactly N actions formatted as ` + "`i: ACTION`" + `, using ONLY the provided valid actions.
If unsure, fill remaining slots with ` + "`EMPTY ACTION`" + `.

Macro priorities:
- Avoid supply block (build PYLON if supply left < 5).
- Continuous probes until strong economy; add assimilators, gateways, and tech.
- Mix early army (ZEALOT/STALKER); use MULTI-ATTACK when supply is decent.
- If information is missing, return safe macro (PROBE / PYLON / EMPTY ACTION).`

const starCraftUser = `
### Current Game State
{{.CurrentState}}

### Valid Actions
{{.ValidActions}}

### Last Actions
{{.LastAction}}

Return exactly {{.NumActions}} lines, each ` + "`i: ACTION`" + `, i from 0.
`
