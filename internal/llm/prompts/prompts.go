// Package prompts renders the scoring-suggestion prompts sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/tutorgate/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant selects how generous the suggested scores are.
type PromptVariant string

const (
	// PromptStrict suits core subjects.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default.
	PromptStandard PromptVariant = "standard"
	// PromptLenient suits practice quizzes and electives.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// SuggestData holds template data for a suggestion prompt.
type SuggestData struct {
	QuestionText string
	Points       int
	Rubric       string
	Answer       string
}

// Load parses the embedded templates once.
func Load() error {
	loadOnce.Do(func() {
		templates, loadErr = parse(templateFS)
	})
	return loadErr
}

func parse(fsys fs.FS) (map[PromptVariant]*template.Template, error) {
	out := make(map[PromptVariant]*template.Template, len(variants))
	for _, v := range variants {
		name := "templates/" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		out[v] = tmpl
	}
	return out, nil
}

// BuildSuggestPrompt renders the prompt asking for a score for one answer.
func BuildSuggestPrompt(variant PromptVariant, q model.Question, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, SuggestData{
		QuestionText: q.Text,
		Points:       q.Points,
		Rubric:       q.Rubric,
		Answer:       sanitizeAnswer(answer),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitizeAnswer strips tags that could break out of the answer block and caps its length.
func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
