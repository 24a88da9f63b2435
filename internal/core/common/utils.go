package common

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// ParseJSON cleans and unmarshals a JSON object from an LLM response into T.
// It tolerates surrounding prose and markdown fences.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	jsonStr := strings.TrimSpace(response)
	if i := strings.Index(jsonStr, "```"); i != -1 {
		jsonStr = jsonStr[i+3:]
		jsonStr = strings.TrimPrefix(jsonStr, "json")
		if j := strings.Index(jsonStr, "```"); j != -1 {
			jsonStr = jsonStr[:j]
		}
	}

	start := strings.IndexByte(jsonStr, '{')
	end := strings.LastIndexByte(jsonStr, '}')
	if start == -1 || end == -1 || end < start {
		return zero, fmt.Errorf("no JSON object found in response")
	}
	jsonStr = jsonStr[start : end+1]

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}
	return result, nil
}

// HashContent returns a stable short hash of text, used in extraction
// idempotence keys.
func HashContent(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
