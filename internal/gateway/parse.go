package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Model output is rarely clean JSON: providers wrap payloads in markdown
// fences, prefix them with prose or reasoning tags. These helpers carve the
// first balanced JSON value out of the text before unmarshaling.

// ExtractJSONObject finds the first balanced JSON object in the model output
// and unmarshals it into out.
func ExtractJSONObject(content string, out interface{}) error {
	raw, err := extractBalanced(content, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to parse JSON object: %w", err)
	}
	return nil
}

// ExtractJSONArray finds the first balanced JSON array in the model output
// and unmarshals it into out.
func ExtractJSONArray(content string, out interface{}) error {
	raw, err := extractBalanced(content, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to parse JSON array: %w", err)
	}
	return nil
}

func extractBalanced(content string, open, close byte) (string, error) {
	content = stripThinking(content)

	start := strings.IndexByte(content, open)
	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("incomplete JSON in response")
}

// stripThinking removes a leading <think>...</think> block emitted by
// reasoning models.
func stripThinking(content string) string {
	if start := strings.Index(content, "<think>"); start != -1 {
		if end := strings.Index(content, "</think>"); end != -1 {
			return content[end+len("</think>"):]
		}
	}
	return content
}
