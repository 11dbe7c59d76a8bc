package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown, extra text,
// double-encoded strings and slightly malformed JSON.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	jsonStr := ExtractJSON(stripFences(response))
	if jsonStr == "" {
		return zero, fmt.Errorf("no JSON value found in response")
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
		return result, nil
	}

	var inner string
	if err := json.Unmarshal([]byte(jsonStr), &inner); err == nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &result); err == nil {
			return result, nil
		}
		jsonStr = ExtractJSON(inner)
	}

	repaired, err := jsonrepair.JSONRepair(jsonStr)
	if err != nil {
		return zero, fmt.Errorf("failed to repair JSON: %w\nData: %s", err, jsonStr)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, repaired)
	}
	return result, nil
}

// ExtractJSON returns the span from the first '{' or '[' to the matching
// last '}' or ']'. A quoted string is returned as is. Without an opening
// bracket the result is empty.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		// unterminated; leave it to the repair step
		return s[start:]
	}
	return s[start : end+1]
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "```")
	if open == -1 {
		return s
	}
	body := s[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		// drop the language hint
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
