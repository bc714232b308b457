// Package parser recovers structured data from loosely-formatted model
// output. Even when a response schema is requested, the model may wrap the
// JSON in a fenced code block, surround it with prose, or return something
// malformed; this package extracts the first well-formed top-level object
// and validates it against the expected shape before it is accepted.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aegisprime/pkg/session"
)

// ErrNoJSON is returned when no JSON object can be located in the text.
var ErrNoJSON = errors.New("no JSON object found in response")

// ErrMalformed is returned when a located candidate fails to parse.
var ErrMalformed = errors.New("response JSON is malformed")

const fenceTag = "```json"

// ExtractObject returns the raw bytes of the single top-level JSON object
// embedded in text.
//
// If the text contains a fenced block tagged as JSON, its inner content is
// used directly. Otherwise the text is scanned for the first '{' and a
// brace-depth counter finds the matching closing brace for that first
// top-level object; this handles nested objects and arrays inside the
// payload, where taking the last '}' in the whole text would over-match if
// trailing prose also contains braces. Braces inside JSON string values do
// not count toward the depth: a prompt draft containing "{placeholder}" or a
// lone '}' must not truncate the candidate.
func ExtractObject(text string) (json.RawMessage, error) {
	if fenceStart := strings.Index(text, fenceTag); fenceStart != -1 {
		inner := text[fenceStart+len(fenceTag):]
		fenceEnd := strings.Index(inner, "```")
		if fenceEnd == -1 {
			return nil, fmt.Errorf("%w: unclosed fenced block", ErrMalformed)
		}
		candidate := strings.TrimSpace(inner[:fenceEnd])
		if !json.Valid([]byte(candidate)) {
			return nil, fmt.Errorf("%w: fenced block is not valid JSON", ErrMalformed)
		}
		return json.RawMessage(candidate), nil
	}

	first := strings.IndexByte(text, '{')
	if first == -1 {
		return nil, ErrNoJSON
	}

	depth := 1
	last := -1
	inString := false
	escaped := false
	for i := first + 1; i < len(text); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 {
			last = i
			break
		}
	}
	if last == -1 {
		return nil, fmt.Errorf("%w: no matching closing brace", ErrMalformed)
	}

	candidate := text[first : last+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("%w: brace-delimited candidate is not valid JSON", ErrMalformed)
	}
	return json.RawMessage(candidate), nil
}

// ParseStrategy extracts and validates a complete four-pillar strategy.
// A missing or incomplete pillar is a hard failure - there is no
// partial-strategy recovery.
func ParseStrategy(text string) (*session.Strategy, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}
	var strategy session.Strategy
	if err := json.Unmarshal(raw, &strategy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("strategy shape rejected: %w", err)
	}
	return &strategy, nil
}

// ParsePillar extracts and validates a single replacement pillar.
func ParsePillar(text string) (*session.Pillar, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}
	var pillar session.Pillar
	if err := json.Unmarshal(raw, &pillar); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(pillar.Title) == "" || strings.TrimSpace(pillar.Description) == "" {
		return nil, errors.New("pillar shape rejected: title and description are required")
	}
	return &pillar, nil
}

// ParseBlueprint extracts and validates a complete blueprint. Every call must
// yield prompt, analysis, and suggestions; a response missing any of them is
// a schema-validation failure.
func ParseBlueprint(text string) (*session.Blueprint, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}
	var bp session.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(bp.Prompt) == "" {
		return nil, errors.New("blueprint shape rejected: prompt is required")
	}
	if strings.TrimSpace(bp.Analysis) == "" {
		return nil, errors.New("blueprint shape rejected: analysis is required")
	}
	if bp.Suggestions == nil {
		return nil, errors.New("blueprint shape rejected: suggestions array is required")
	}
	return &bp, nil
}

// ParseURLContext extracts and validates a structured URL summary.
func ParseURLContext(text string) (*session.URLContext, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}
	var uc session.URLContext
	if err := json.Unmarshal(raw, &uc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(uc.Title) == "" || strings.TrimSpace(uc.Summary) == "" {
		return nil, errors.New("url context shape rejected: title and summary are required")
	}
	return &uc, nil
}
