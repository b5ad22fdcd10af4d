package game

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// Vocabulary is the set of valid actions of one game.
type Vocabulary interface {
	// Normalize maps a raw agent or model reply to its canonical action. ok is false
	// when nothing valid could be recovered; the returned string is then undefined.
	Normalize(raw string, info schemas.GameInfo) (action string, ok bool)
	// Fallback is the safe action used when no valid one is available.
	Fallback(info schemas.GameInfo) string
	// Actions lists the valid action tokens, used to build prompts.
	Actions(info schemas.GameInfo) []string
}

// IsMember reports whether action is already in canonical form for the vocabulary.
func IsMember(v Vocabulary, action string, info schemas.GameInfo) bool {
	got, ok := v.Normalize(action, info)
	return ok && got == action
}

// -- 2048 --

var directions = []string{"up", "down", "left", "right"}

// TwentyFortyEightVocabulary accepts a single sliding direction.
type TwentyFortyEightVocabulary struct{}

func (TwentyFortyEightVocabulary) Normalize(raw string, _ schemas.GameInfo) (string, bool) {
	line := firstLine(raw)
	if line == "" {
		return "", false
	}
	word := strings.ToLower(strings.Trim(strings.Fields(line)[0], "*`'\".,:;!()[]"))
	for _, d := range directions {
		if word == d {
			return d, true
		}
	}
	return "", false
}

func (TwentyFortyEightVocabulary) Fallback(schemas.GameInfo) string { return "left" }

func (TwentyFortyEightVocabulary) Actions(schemas.GameInfo) []string {
	return append([]string(nil), directions...)
}

// -- Super Mario --

// MaxJumpLevel is the highest jump level Mario accepts.
const MaxJumpLevel = 6

var jumpLevelRegex = regexp.MustCompile(`(?i)jump\s*level[\s:*_]*(-?\d+)`)

// MarioVocabulary accepts "Jump Level: N" with N in 0..6.
type MarioVocabulary struct{}

func (MarioVocabulary) Normalize(raw string, _ schemas.GameInfo) (string, bool) {
	var digits string
	if m := jumpLevelRegex.FindStringSubmatch(raw); len(m) == 2 {
		digits = m[1]
	} else {
		digits = strings.Trim(firstLine(raw), "*`'\". ")
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || n > MaxJumpLevel {
		return "", false
	}
	return FormatJumpLevel(n), true
}

func (MarioVocabulary) Fallback(schemas.GameInfo) string { return FormatJumpLevel(0) }

func (MarioVocabulary) Actions(schemas.GameInfo) []string {
	out := make([]string, 0, MaxJumpLevel+1)
	for i := 0; i <= MaxJumpLevel; i++ {
		out = append(out, FormatJumpLevel(i))
	}
	return out
}

// FormatJumpLevel renders a jump level in the form the Mario server parses.
func FormatJumpLevel(n int) string { return fmt.Sprintf("Jump Level: %d", n) }

// -- Pokemon Red --

// MaxButtonsPerStep caps how many button presses one Pokemon action may carry.
const MaxButtonsPerStep = 3

var (
	pokemonButtons     = []string{"up", "down", "left", "right", "a", "b", "start", "select"}
	pokemonButtonRegex = regexp.MustCompile(`(?i)\b(up|down|left|right|a|b|start|select)\b`)
)

// PokemonVocabulary accepts up to three distinct space separated Game Boy buttons.
type PokemonVocabulary struct{}

func (PokemonVocabulary) Normalize(raw string, _ schemas.GameInfo) (string, bool) {
	var buttons []string
	seen := make(map[string]bool, MaxButtonsPerStep)
	for _, tok := range pokemonButtonRegex.FindAllString(raw, -1) {
		b := strings.ToLower(tok)
		if seen[b] {
			continue
		}
		seen[b] = true
		buttons = append(buttons, b)
		if len(buttons) == MaxButtonsPerStep {
			break
		}
	}
	if len(buttons) == 0 {
		return "", false
	}
	return strings.Join(buttons, " "), true
}

func (PokemonVocabulary) Fallback(schemas.GameInfo) string { return "a" }

func (PokemonVocabulary) Actions(schemas.GameInfo) []string {
	return append([]string(nil), pokemonButtons...)
}

// -- StarCraft II --

// EmptyAction pads StarCraft action lists.
const EmptyAction = "EMPTY ACTION"

// DefaultNumActions is used when game_info does not say how many actions a step takes.
const DefaultNumActions = 5

// DefaultStarCraftActions is the Protoss action space used when game_info has no action_dict.
var DefaultStarCraftActions = []string{
	"TRAIN PROBE", "TRAIN ZEALOT", "TRAIN ADEPT", "TRAIN STALKER", "TRAIN SENTRY",
	"TRAIN HIGHTEMPLAR", "TRAIN DARKTEMPLAR", "TRAIN VOIDRAY", "TRAIN CARRIER", "TRAIN TEMPEST",
	"TRAIN ORACLE", "TRAIN PHOENIX", "TRAIN MOTHERSHIP", "TRAIN OBSERVER", "TRAIN IMMORTAL",
	"TRAIN WARPPRISM", "TRAIN COLOSSUS", "TRAIN DISRUPTOR", "MORPH ARCHON",
	"BUILD PYLON", "BUILD ASSIMILATOR", "BUILD NEXUS", "BUILD GATEWAY", "BUILD CYBERNETICSCORE",
	"BUILD FORGE", "BUILD TWILIGHTCOUNCIL", "BUILD ROBOTICSFACILITY", "BUILD STARGATE",
	"BUILD TEMPLARARCHIVE", "BUILD DARKSHRINE", "BUILD ROBOTICSBAY", "BUILD FLEETBEACON",
	"BUILD PHOTONCANNON", "BUILD SHIELDBATTERY",
	"RESEARCH WARPGATERESEARCH", "RESEARCH PROTOSSAIRWEAPONSLEVEL1", "RESEARCH PROTOSSAIRWEAPONSLEVEL2",
	"RESEARCH PROTOSSAIRWEAPONSLEVEL3", "RESEARCH PROTOSSAIRARMORSLEVEL1", "RESEARCH PROTOSSAIRARMORSLEVEL2",
	"RESEARCH PROTOSSAIRARMORSLEVEL3", "RESEARCH ADEPTPIERCINGATTACK", "RESEARCH BLINKTECH",
	"RESEARCH CHARGE", "RESEARCH PROTOSSGROUNDWEAPONSLEVEL1", "RESEARCH PROTOSSGROUNDWEAPONSLEVEL2",
	"RESEARCH PROTOSSGROUNDWEAPONSLEVEL3", "RESEARCH PROTOSSGROUNDARMORSLEVEL1",
	"RESEARCH PROTOSSGROUNDARMORSLEVEL2", "RESEARCH PROTOSSGROUNDARMORSLEVEL3",
	"RESEARCH PROTOSSSHIELDSLEVEL1", "RESEARCH PROTOSSSHIELDSLEVEL2", "RESEARCH PROTOSSSHIELDSLEVEL3",
	"RESEARCH EXTENDEDTHERMALLANCE", "RESEARCH GRAVITICDRIVE", "RESEARCH OBSERVERGRAVITICBOOSTER",
	"RESEARCH PSISTORMTECH", "RESEARCH VOIDRAYSPEEDUPGRADE", "RESEARCH PHOENIXRANGEUPGRADE",
	"RESEARCH TEMPESTGROUNDATTACKUPGRADE", "SCOUTING PROBE", "SCOUTING OBSERVER", "SCOUTING ZEALOT",
	"SCOUTING PHOENIX", "MULTI-ATTACK", "MULTI-RETREAT",
	"CHRONOBOOST NEXUS", "CHRONOBOOST CYBERNETICSCORE", "CHRONOBOOST TWILIGHTCOUNCIL",
	"CHRONOBOOST STARGATE", "CHRONOBOOST FORGE", EmptyAction,
}

var (
	numberedActionRegex   = regexp.MustCompile(`^\s*\d+\s*[:.)]\s*(.+)$`)
	defaultStarCraftRegex = starCraftActionRegex(DefaultStarCraftActions)
)

// starCraftActionRegex matches any of actions as whole words, case-insensitively.
// Longer actions come first so that the longest name wins at a position.
func starCraftActionRegex(actions []string) *regexp.Regexp {
	alts := make([]string, 0, len(actions))
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(a), " ", `\s+`))
		}
	}
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func canonicalAction(match string) string {
	return strings.ToUpper(strings.Join(strings.Fields(match), " "))
}

// StarCraftVocabulary accepts num_actions lines of the form "i: ACTION". A line may
// carry trailing commentary after the action. When no numbered line holds a valid
// action, actions are collected from anywhere in the text.
type StarCraftVocabulary struct{}

func (v StarCraftVocabulary) Normalize(raw string, info schemas.GameInfo) (string, bool) {
	re := defaultStarCraftRegex
	if len(info.ActionDict) > 0 {
		re = starCraftActionRegex(append(v.Actions(info), EmptyAction))
	}

	var candidates []string
	for _, line := range strings.Split(raw, "\n") {
		m := numberedActionRegex.FindStringSubmatch(line)
		if len(m) != 2 {
			continue
		}
		rest := strings.TrimLeft(m[1], "*`'\" ")
		if loc := re.FindStringIndex(rest); loc != nil && loc[0] == 0 {
			candidates = append(candidates, canonicalAction(rest[:loc[1]]))
		}
	}
	if len(candidates) == 0 {
		for _, match := range re.FindAllString(raw, -1) {
			candidates = append(candidates, canonicalAction(match))
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return FormatStarCraftActions(candidates, NumActions(info)), true
}

func (StarCraftVocabulary) Fallback(info schemas.GameInfo) string {
	return FormatStarCraftActions(nil, NumActions(info))
}

// Actions returns the action_dict keys in sorted order, or the default Protoss list.
func (StarCraftVocabulary) Actions(info schemas.GameInfo) []string {
	if len(info.ActionDict) == 0 {
		return append([]string(nil), DefaultStarCraftActions...)
	}
	keys := make([]string, 0, len(info.ActionDict))
	for k := range info.ActionDict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NumActions returns how many actions a StarCraft step carries.
func NumActions(info schemas.GameInfo) int {
	if info.NumActions > 0 {
		return info.NumActions
	}
	return DefaultNumActions
}

// FormatStarCraftActions trims or pads actions to n entries and numbers them from 0.
func FormatStarCraftActions(actions []string, n int) string {
	if n < 1 {
		n = 1
	}
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		a := EmptyAction
		if i < len(actions) {
			a = actions[i]
		}
		lines[i] = fmt.Sprintf("%d: %s", i, a)
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
