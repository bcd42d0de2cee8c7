// Package llm wraps the text-generation service behind a narrow interface.
// Handlers depend on Client, never on a concrete provider, so execution is
// testable with fakes.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GenerationError marks a failed or empty generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation failed"
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ParseError marks a generation that returned text that is not valid JSON.
// RawText carries the unparsed model output for diagnostics.
type ParseError struct {
	Err     error
	RawText string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse generation output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// GenerateRequest is one structured-output generation call.
type GenerateRequest struct {
	SystemPrompt string
	UserMessage  string
	Model        string
	MaxTokens    int
}

func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return errors.New("system prompt is required")
	}
	if strings.TrimSpace(r.UserMessage) == "" {
		return errors.New("user message is required")
	}
	return nil
}

// Client generates a structured JSON document from a prompt pair.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error)
}

// DecodeJSON cleans common model output artifacts (code fences, trailing
// commas) and decodes the result. A failure is a ParseError carrying the raw
// text.
func DecodeJSON(text string) (json.RawMessage, error) {
	cleaned := removeTrailingCommas(stripCodeFences(text))
	if !json.Valid([]byte(cleaned)) {
		return nil, &ParseError{Err: errors.New("output is not valid JSON"), RawText: text}
	}
	return json.RawMessage(cleaned), nil
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(trimmed), "```json") {
		trimmed = trimmed[len("```json"):]
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[len("```"):]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// removeTrailingCommas drops commas directly before a closing brace or
// bracket, a frequent model output defect. String contents are respected.
func removeTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
