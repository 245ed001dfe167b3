// Package validation checks caller-supplied inputs before they reach the
// question pipeline: question text, namespace identifiers, and the optional
// question type hint. Failures carry ERR_4xx codes and satisfy
// errors.Is(err, ragerr.ErrValidation), so transport layers can map the whole
// family without inspecting codes.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

const (
	// MaxQuestionRunes bounds question length. Measured in runes so Chinese
	// questions are not penalized for their UTF-8 byte size.
	MaxQuestionRunes = 2000

	// MaxIDLength bounds tenant and scenario identifiers.
	MaxIDLength = 64
)

// Tenant and scenario identifiers become directory names under databases/,
// so the accepted character set stays path-safe on every platform. The first
// character must be alphanumeric, which also rules out "." and "..".
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Question checks that a question is non-empty after trimming and within the
// length bound. It returns the trimmed question; callers use the trimmed form
// for everything downstream, including cache keys.
func Question(q string) (string, error) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return "", ragerr.New(ragerr.ErrCodeQueryEmpty, "question is empty", ragerr.ErrValidation)
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxQuestionRunes {
		return "", ragerr.New(ragerr.ErrCodeQueryTooLong,
			fmt.Sprintf("question is %d characters, limit is %d", n, MaxQuestionRunes),
			ragerr.ErrValidation).
			WithSuggestion("Shorten the question or split it into several questions")
	}
	return trimmed, nil
}

// NamespaceID checks a single tenant or scenario identifier. The field name
// appears in the error message so callers can tell which part was rejected.
func NamespaceID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return ragerr.New(ragerr.ErrCodeInvalidNamespace,
			fmt.Sprintf("%s id is empty", field),
			ragerr.ErrValidation)
	}
	if len(id) > MaxIDLength {
		return ragerr.New(ragerr.ErrCodeInvalidNamespace,
			fmt.Sprintf("%s id exceeds %d characters", field, MaxIDLength),
			ragerr.ErrValidation)
	}
	if !idPattern.MatchString(id) {
		return ragerr.New(ragerr.ErrCodeInvalidNamespace,
			fmt.Sprintf("%s id %q contains unsupported characters", field, id),
			ragerr.ErrValidation).
			WithSuggestion("Use letters, digits, '.', '_' or '-', starting with a letter or digit")
	}
	return nil
}

// Namespace checks the (tenant, scenario) pair.
func Namespace(tenant, scenario string) error {
	if err := NamespaceID("tenant", tenant); err != nil {
		return err
	}
	return NamespaceID("scenario", scenario)
}

// Question type hints accepted by the pipeline. An empty hint means "let the
// query analyzer decide".
const (
	TypeFact     = "fact"
	TypeGuidance = "guidance"
	TypeAnalysis = "analysis"
)

// QuestionType normalizes and checks the optional question type hint.
func QuestionType(qt string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(qt))
	switch normalized {
	case "", TypeFact, TypeGuidance, TypeAnalysis:
		return normalized, nil
	default:
		return "", ragerr.New(ragerr.ErrCodeInvalidInput,
			fmt.Sprintf("unknown question type %q", qt),
			ragerr.ErrValidation).
			WithSuggestion("Use one of: fact, guidance, analysis")
	}
}
