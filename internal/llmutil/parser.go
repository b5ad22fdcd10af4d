// internal/llmutil/parser.go
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in markdown, with any language tag.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

	// actionsSectionRegex captures everything after a "### Actions" heading.
	actionsSectionRegex = regexp.MustCompile(`(?is)###\s*actions?\s*:?\s*\n(.+)`)
)

// ExtractActionsSection returns the text following a "### Actions" heading, trimmed
// and with any markdown fence removed. ok is false when the reply has no such section.
func ExtractActionsSection(response string) (section string, ok bool) {
	matches := actionsSectionRegex.FindStringSubmatch(response)
	if len(matches) < 2 {
		return "", false
	}
	section = CleanCodeOutput(matches[1])
	// A following heading ends the section.
	if idx := strings.Index(section, "\n###"); idx >= 0 {
		section = section[:idx]
	}
	section = strings.TrimSpace(section)
	return section, section != ""
}

// ExtractSection returns the body of a "### <name>" heading up to the next heading.
// Matching is case-insensitive.
func ExtractSection(response, name string) (string, bool) {
	re, err := regexp.Compile(`(?is)###\s*` + regexp.QuoteMeta(name) + `\s*:?\s*(.*)`)
	if err != nil {
		return "", false
	}
	matches := re.FindStringSubmatch(response)
	if len(matches) < 2 {
		return "", false
	}
	body := matches[1]
	if idx := strings.Index(body, "###"); idx >= 0 {
		body = body[:idx]
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// actionEnvelope is the JSON shape models are asked to fall back to.
type actionEnvelope struct {
	Action  json.RawMessage `json:"action"`
	Actions json.RawMessage `json:"actions"`
}

// ExtractJSONAction reads an {"action": ...} or {"actions": [...]} object from a reply.
// Array values are joined with newlines. ok is false when no usable JSON is found.
func ExtractJSONAction(response string) (action string, ok bool) {
	env, err := ParseJSONResponse[actionEnvelope](response)
	if err != nil {
		return "", false
	}
	for _, raw := range []json.RawMessage{env.Action, env.Actions} {
		if len(raw) == 0 {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
			return strings.Join(list, "\n"), true
		}
	}
	return "", false
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks,
// and repairs malformed JSON (trailing commas, single quotes, truncation) before giving up.
func ParseJSONResponse[T any](response string) (*T, error) {
	jsonStringToParse := extractJSON(strings.TrimSpace(response))

	var result T
	err := json.Unmarshal([]byte(jsonStringToParse), &result)
	if err == nil {
		return &result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStringToParse)
	if repairErr == nil {
		var fixed T
		if err2 := json.Unmarshal([]byte(repaired), &fixed); err2 == nil {
			return &fixed, nil
		}
	}

	// Provide a detailed error message including the extracted JSON snippet.
	return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
}

// extractJSON locates the JSON payload inside a reply.
func extractJSON(response string) string {
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Markdown wrapping (most common case).
	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	// 2. Structure embedded in conversational text.
	if (isObject || isArray) && !strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[") {
		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
		}
		if isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb > fb {
				return response[fb : lb+1]
			}
		}
	}
	return response
}

// CleanCodeOutput removes a surrounding markdown fence (like ```text) from a reply.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		matches := codeBlockRegex.FindStringSubmatch(content)
		if len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return content
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
