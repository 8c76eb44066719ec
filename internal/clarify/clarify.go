// Package clarify implements the clarification gate that rejects
// under-specified research topics before the pipeline commits to a plan.
package clarify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Status is the lifecycle state of a clarification record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClarified Status = "clarified"
	StatusFailed    Status = "failed"
)

// Record captures one clarification exchange. It is persisted for audit
// regardless of whether the exchange resolved the topic.
type Record struct {
	Status        Status   `json:"status"`
	OriginalTopic string   `json:"original_topic"`
	Questions     []string `json:"questions"`
	Answers       []string `json:"answers"`
	FinalTopic    string   `json:"final_topic"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// MarkClarified transitions the record to clarified with the merged topic.
// A clarified record must carry at least one answer.
func (r *Record) MarkClarified(answers []string, finalTopic string) error {
	if len(answers) == 0 {
		return fmt.Errorf("cannot mark record clarified without answers")
	}
	r.Answers = append(r.Answers, answers...)
	r.FinalTopic = finalTopic
	r.Status = StatusClarified
	r.FailureReason = ""
	return nil
}

// MarkFailed transitions the record to failed with a reason.
func (r *Record) MarkFailed(reason string) {
	r.Status = StatusFailed
	r.FailureReason = reason
}

// Save writes the record as indented JSON.
func (r *Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal clarification record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write clarification record: %w", err)
	}
	return nil
}

// LoadRecord reads a previously persisted clarification record.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clarification record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse clarification record: %w", err)
	}
	return &rec, nil
}

const (
	maxQuestions   = 3
	minTopicLength = 20
)

// ambiguousTerms trigger clarification when they appear as a whole token,
// case-insensitively, anywhere in the topic.
var ambiguousTerms = map[string]struct{}{
	"it": {}, "this": {}, "that": {}, "they": {}, "them": {},
	"something": {}, "anything": {}, "what": {}, "how": {},
}

// shortAbbreviations are well-known abbreviations too broad to research
// on their own.
var shortAbbreviations = map[string]struct{}{
	"ai": {}, "ml": {}, "dl": {}, "llm": {}, "nlp": {},
	"cv": {}, "ag": {}, "ar": {}, "vr": {}, "mr": {},
	"web": {}, "app": {}, "db": {}, "os": {}, "api": {},
}

// Clarifier decides whether a topic is specific enough to proceed and,
// when it is not, produces deterministic clarification questions.
type Clarifier struct {
	logger *zap.Logger
}

// New creates a Clarifier.
func New(logger *zap.Logger) *Clarifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clarifier{logger: logger}
}

// NeedsClarification reports whether the topic is too vague to plan
// against. True when the trimmed topic is shorter than 20 characters,
// contains an ambiguous term as a whole token, or matches a known short
// abbreviation.
func (c *Clarifier) NeedsClarification(topic string) bool {
	trimmed := strings.TrimSpace(topic)
	// Length is in characters, not bytes; non-ASCII topics count the
	// same as ASCII ones.
	if utf8.RuneCountInString(trimmed) < minTopicLength {
		return true
	}

	lower := strings.ToLower(trimmed)
	if _, ok := shortAbbreviations[lower]; ok {
		return true
	}
	for _, token := range strings.Fields(lower) {
		if _, ok := ambiguousTerms[token]; ok {
			return true
		}
		if _, ok := shortAbbreviations[token]; ok {
			return true
		}
	}
	return false
}

// GenerateQuestions returns up to three clarification questions for a
// topic. Selection depends only on which gate rules fired, so the output
// is deterministic for a given topic.
func (c *Clarifier) GenerateQuestions(topic string) []string {
	trimmed := strings.TrimSpace(topic)

	if utf8.RuneCountInString(trimmed) < 5 {
		return []string{
			"What specific topic would you like to research?",
			"What aspect or angle are you interested in?",
			"What is the purpose of this research?",
		}
	}

	var questions []string
	if utf8.RuneCountInString(trimmed) < minTopicLength {
		questions = append(questions, fmt.Sprintf(
			"Could you provide more context about %q? What specifically would you like to learn?", trimmed))
	}

	lower := strings.ToLower(trimmed)
	for _, token := range strings.Fields(lower) {
		if _, ok := ambiguousTerms[token]; ok {
			questions = append(questions,
				"Your topic seems vague. Could you be more specific about what you mean?")
			break
		}
	}

	if len(questions) < maxQuestions {
		questions = append(questions,
			"What depth of research do you need? (brief overview / comprehensive analysis)")
	}

	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}
	return questions
}

// Check runs the gate and returns a pending record with questions when
// the topic needs clarification, or nil when it is specific enough.
func (c *Clarifier) Check(topic string) *Record {
	if !c.NeedsClarification(topic) {
		return nil
	}
	rec := &Record{
		Status:        StatusPending,
		OriginalTopic: topic,
		Questions:     c.GenerateQuestions(topic),
		FinalTopic:    topic,
	}
	c.logger.Info("Topic requires clarification",
		zap.String("topic", topic),
		zap.Int("questions", len(rec.Questions)),
	)
	return rec
}
