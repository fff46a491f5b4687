package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Model output is a hostile input source: responses wrap the requested
// structure in prose, code fences, or both, and sometimes contain no
// structure at all. These helpers extract the first well-formed JSON
// array/object substring instead of assuming the whole response parses.

// ExtractJSONArray finds the first balanced JSON array in text and decodes
// it into dst. Returns an error when no parseable array exists.
func ExtractJSONArray(text string, dst any) error {
	raw, err := extractBalanced(text, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode array: %w", err)
	}
	return nil
}

// ExtractJSONObject finds the first balanced JSON object in text and
// decodes it into dst. Returns an error when no parseable object exists.
func ExtractJSONObject(text string, dst any) error {
	raw, err := extractBalanced(text, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

// extractBalanced returns the first substring spanning from the first open
// delimiter to its balanced close, skipping delimiters inside JSON strings.
func extractBalanced(text string, open, close byte) (string, error) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", fmt.Errorf("no %q found in response", string(open))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced %q in response", string(open))
}
