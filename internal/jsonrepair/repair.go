// Package jsonrepair recovers structured data from sloppy LLM output. It
// either produces a string that parses as valid JSON or reports a typed
// parse failure; its heuristics never leak past that contract.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports that repair could not produce valid JSON. Raw holds
// the original content for diagnosis.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("content is not repairable JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)\s*:`)
)

// Repair normalizes content into valid JSON: code fences are stripped,
// surrounding prose is trimmed, trailing commas dropped, bare object keys
// quoted, and unbalanced braces/brackets closed. Returns a *ParseError if
// the result still does not parse.
func Repair(content string) (string, error) {
	original := content
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &ParseError{Raw: original, Err: fmt.Errorf("empty content")}
	}

	content = stripFences(content)
	content = trimToJSON(content)
	if content == "" {
		return "", &ParseError{Raw: original, Err: fmt.Errorf("no JSON object or array found")}
	}

	if json.Valid([]byte(content)) {
		return content, nil
	}

	repaired := trailingCommaRe.ReplaceAllString(content, "$1")
	repaired = bareKeyRe.ReplaceAllString(repaired, `$1"$2":`)
	repaired = balance(repaired)

	if !json.Valid([]byte(repaired)) {
		return "", &ParseError{Raw: original, Err: fmt.Errorf("invalid after repair")}
	}
	return repaired, nil
}

// stripFences extracts the first fenced code block tagged json or ts, or
// the first fenced block at all, falling back to the input unchanged.
func stripFences(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}
	blocks := strings.Split(content, "```")
	// Fenced content sits at odd indexes.
	for i := 1; i < len(blocks); i += 2 {
		block := blocks[i]
		switch {
		case strings.HasPrefix(block, "json"):
			return strings.TrimSpace(block[len("json"):])
		case strings.HasPrefix(block, "ts"):
			return strings.TrimSpace(block[len("ts"):])
		}
	}
	if len(blocks) > 1 {
		return strings.TrimSpace(blocks[1])
	}
	return content
}

// trimToJSON cuts leading and trailing prose around the outermost JSON
// value. Returns "" if no opening brace or bracket exists.
func trimToJSON(content string) string {
	brace := strings.IndexByte(content, '{')
	bracket := strings.IndexByte(content, '[')

	start := -1
	switch {
	case brace >= 0 && (bracket < 0 || brace < bracket):
		start = brace
	case bracket >= 0:
		start = bracket
	}
	if start < 0 {
		return ""
	}
	content = content[start:]

	lastBrace := strings.LastIndexByte(content, '}')
	lastBracket := strings.LastIndexByte(content, ']')
	end := lastBrace
	if lastBracket > end {
		end = lastBracket
	}
	if end >= 0 {
		content = content[:end+1]
	}
	return strings.TrimSpace(content)
}

// balance appends closers for any braces or brackets left open outside of
// string literals.
func balance(content string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		content += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			content += "}"
		} else {
			content += "]"
		}
	}
	return content
}
