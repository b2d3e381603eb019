// Package parser extracts a KTRU code from free-text model output.
//
// A response resolves to exactly one of four outcomes. Text that is empty,
// contains the not-found phrase, or carries no code is not found. Text that
// carries two or more distinct codes is ambiguous and is also treated as not
// found by callers. Provider-level item errors never reach the parser and are
// recorded as errored by the reconciler.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/JaimeStill/ktru/pkg/formatting"
)

const (
	// DefaultPattern matches a KTRU code such as 26.20.11.110-00000001.
	DefaultPattern = `\b\d{2}\.\d{2}\.\d{2}\.\d{3}-\d{8}\b`

	// DefaultNotFoundPhrase is the phrase the model emits when it cannot classify.
	DefaultNotFoundPhrase = "код не найден"
)

// Outcome describes how a model response was resolved.
type Outcome string

const (
	Matched   Outcome = "matched"
	NotFound  Outcome = "not_found"
	Ambiguous Outcome = "ambiguous"
	Errored   Outcome = "errored"
)

// Result is the structured interpretation of one model response.
// Code is nil for every outcome other than Matched.
type Result struct {
	Code       *string  `json:"code"`
	Outcome    Outcome  `json:"outcome"`
	Candidates []string `json:"candidates,omitempty"`
}

// Parser holds the compiled code pattern and the lowercased not-found phrase.
type Parser struct {
	pattern *regexp.Regexp
	phrase  string
}

// New compiles a Parser. Empty arguments fall back to the defaults.
func New(pattern, notFoundPhrase string) (*Parser, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if notFoundPhrase == "" {
		notFoundPhrase = DefaultNotFoundPhrase
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile code pattern: %w", err)
	}

	return &Parser{
		pattern: re,
		phrase:  strings.ToLower(notFoundPhrase),
	}, nil
}

// Default returns a Parser using DefaultPattern and DefaultNotFoundPhrase.
func Default() *Parser {
	p, _ := New(DefaultPattern, DefaultNotFoundPhrase)
	return p
}

// Parse resolves a model response into a Result.
// When the response is a JSON object (optionally fenced) carrying ktru_code,
// only that field is considered.
func (p *Parser) Parse(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Outcome: NotFound}
	}

	if field, ok := p.codeField(text); ok {
		text = field
		if text == "" {
			return Result{Outcome: NotFound}
		}
	}

	if strings.Contains(strings.ToLower(text), p.phrase) {
		return Result{Outcome: NotFound}
	}

	codes := p.distinct(text)
	switch len(codes) {
	case 0:
		return Result{Outcome: NotFound}
	case 1:
		code := codes[0]
		return Result{Code: &code, Outcome: Matched}
	default:
		return Result{Outcome: Ambiguous, Candidates: codes}
	}
}

// Valid reports whether s is exactly one well-formed code.
func (p *Parser) Valid(s string) bool {
	loc := p.pattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

func (p *Parser) distinct(text string) []string {
	matches := p.pattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	codes := make([]string, 0, len(matches))

	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		codes = append(codes, m)
	}

	return codes
}

func (p *Parser) codeField(text string) (string, bool) {
	obj, err := formatting.Parse[map[string]json.RawMessage](text)
	if err != nil || obj == nil {
		return "", false
	}

	raw, ok := obj["ktru_code"]
	if !ok {
		return "", false
	}

	var code *string
	if err := json.Unmarshal(raw, &code); err != nil || code == nil {
		return "", true
	}

	return strings.TrimSpace(*code), true
}
