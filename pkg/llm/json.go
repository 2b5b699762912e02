package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response holds no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// ErrNoSQL is returned when a response holds no SQL statement.
var ErrNoSQL = errors.New("no SQL found in response")

// thinkTagPattern matches <think>...</think> tags that may appear at the start of LLM responses.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

var (
	sqlFencePattern  = regexp.MustCompile("(?is)```(?:sql|postgresql|postgres)?\\s*\\n?(.*?)```")
	sqlStartPattern  = regexp.MustCompile(`(?i)\bSELECT\b|\bWITH\s+[A-Za-z_]\w*\s+AS\s*\(`)
	sqlPrefixPattern = regexp.MustCompile(`(?i)^\s*(?:sql|query)\s*:\s*`)
)

// ExtractJSON extracts JSON content from an LLM response that may contain
// <think> tags, markdown code blocks, or other formatting.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if jsonStr, ok := extractBalancedJSON(cleaned, '{', '}'); ok && json.Valid([]byte(jsonStr)) {
			return jsonStr, nil
		}
	}

	if arrStart >= 0 {
		if jsonStr, ok := extractBalancedJSON(cleaned, '[', ']'); ok && json.Valid([]byte(jsonStr)) {
			return jsonStr, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", ErrNoJSON
}

// ExtractJSONObject returns the first balanced, valid JSON object in response.
// Arrays and bare scalars do not count.
func ExtractJSONObject(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	for offset := 0; offset < len(cleaned); {
		start := strings.IndexByte(cleaned[offset:], '{')
		if start < 0 {
			break
		}
		candidate, ok := extractBalancedJSON(cleaned[offset+start:], '{', '}')
		if ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		offset += start + 1
	}
	return "", ErrNoJSON
}

// extractBalancedJSON finds the first balanced JSON structure starting with openChar.
// It handles nested structures by counting bracket depth.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts the first JSON object from a response and unmarshals it into the target.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSONObject(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}

// ExtractSQL pulls a SQL statement out of model output: the first fenced code
// block if there is one, otherwise everything from the first SELECT or WITH.
// Surrounding whitespace is trimmed; semicolons are left for the validator.
func ExtractSQL(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	if m := sqlFencePattern.FindStringSubmatch(cleaned); m != nil {
		if sql := strings.TrimSpace(sqlPrefixPattern.ReplaceAllString(m[1], "")); sql != "" {
			return sql, nil
		}
	}

	if loc := sqlStartPattern.FindStringIndex(cleaned); loc != nil {
		return strings.TrimSpace(cleaned[loc[0]:]), nil
	}
	return "", ErrNoSQL
}
