// Package practice holds the pieces of a practice screen that drive the
// audio core: typed question payloads, the prep/record countdown and the
// multi-select scoring rule.
package practice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidQuestion is returned when a question payload is malformed or
// fails validation.
var ErrInvalidQuestion = errors.New("invalid question payload")

type Kind string

const (
	ReadAloud           Kind = "read_aloud"
	RepeatSentence      Kind = "repeat_sentence"
	DescribeImage       Kind = "describe_image"
	RetellLecture       Kind = "retell_lecture"
	AnswerShortQuestion Kind = "answer_short_question"
	MultiSelect         Kind = "multiple_choice_multiple"
)

// Timing is the prep and record window of a spoken task. A zero Record
// means the task is not spoken.
type Timing struct {
	Prep   time.Duration
	Record time.Duration
}

// Question is one practice item. The concrete types are the variants below;
// switch on them rather than on Kind.
type Question interface {
	Kind() Kind
	QuestionID() string
	Timing() Timing
}

// checker is implemented by variants with rules the schema cannot express.
type checker interface {
	check() error
}

type Base struct {
	ID   string `json:"id"`
	Type Kind   `json:"type"`
}

func (b Base) QuestionID() string { return b.ID }

type ReadAloudQuestion struct {
	Base
	Text string `json:"text"`
}

func (q *ReadAloudQuestion) Kind() Kind { return ReadAloud }
func (q *ReadAloudQuestion) Timing() Timing {
	return Timing{Prep: 35 * time.Second, Record: 40 * time.Second}
}

// RepeatSentenceQuestion plays AudioText through TTS; the candidate repeats
// it straight away.
type RepeatSentenceQuestion struct {
	Base
	AudioText string `json:"audio_text"`
}

func (q *RepeatSentenceQuestion) Kind() Kind { return RepeatSentence }
func (q *RepeatSentenceQuestion) Timing() Timing {
	return Timing{Prep: 0, Record: 15 * time.Second}
}

type DescribeImageQuestion struct {
	Base
	ImageURL    string `json:"image_url"`
	Description string `json:"description,omitempty"`
}

func (q *DescribeImageQuestion) Kind() Kind { return DescribeImage }
func (q *DescribeImageQuestion) Timing() Timing {
	return Timing{Prep: 25 * time.Second, Record: 40 * time.Second}
}

type RetellLectureQuestion struct {
	Base
	LectureText string `json:"lecture_text"`
}

func (q *RetellLectureQuestion) Kind() Kind { return RetellLecture }
func (q *RetellLectureQuestion) Timing() Timing {
	return Timing{Prep: 10 * time.Second, Record: 40 * time.Second}
}

type ShortAnswerQuestion struct {
	Base
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

func (q *ShortAnswerQuestion) Kind() Kind { return AnswerShortQuestion }
func (q *ShortAnswerQuestion) Timing() Timing {
	return Timing{Prep: 3 * time.Second, Record: 10 * time.Second}
}

// MultiSelectQuestion is a listening item with several correct options.
type MultiSelectQuestion struct {
	Base
	AudioText string   `json:"audio_text"`
	Prompt    string   `json:"prompt"`
	Options   []string `json:"options"`
	Correct   []string `json:"correct"`
}

func (q *MultiSelectQuestion) Kind() Kind     { return MultiSelect }
func (q *MultiSelectQuestion) Timing() Timing { return Timing{} }

// check requires every correct answer to be one of the options.
func (q *MultiSelectQuestion) check() error {
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		seen[o] = true
	}
	for _, c := range q.Correct {
		if !seen[c] {
			return fmt.Errorf("correct: %q is not one of the options", c)
		}
	}
	return nil
}

// Score applies ScoreMultiSelect to picked.
func (q *MultiSelectQuestion) Score(picked []string) int {
	return ScoreMultiSelect(q.Correct, picked)
}

// ParseQuestion validates a JSON payload against the schema of its type and
// decodes it into the variant. Unknown types, unknown fields and missing
// content all fail with ErrInvalidQuestion.
func ParseQuestion(data []byte) (Question, error) {
	var probe Base
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}

	var q Question
	switch probe.Type {
	case ReadAloud:
		q = &ReadAloudQuestion{}
	case RepeatSentence:
		q = &RepeatSentenceQuestion{}
	case DescribeImage:
		q = &DescribeImageQuestion{}
	case RetellLecture:
		q = &RetellLectureQuestion{}
	case AnswerShortQuestion:
		q = &ShortAnswerQuestion{}
	case MultiSelect:
		q = &MultiSelectQuestion{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidQuestion)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, probe.Type)
	}

	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}
	if err := schemas[probe.Type].Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidQuestion, probe.Type, probe.ID, err)
	}

	if err := json.Unmarshal(data, q); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuestion, probe.Type, err)
	}
	if c, ok := q.(checker); ok {
		if err := c.check(); err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidQuestion, probe.Type, probe.ID, err)
		}
	}
	return q, nil
}

// ParseQuestions decodes a JSON array of payloads. The first invalid item
// fails the whole batch.
func ParseQuestions(data []byte) ([]Question, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}
	out := make([]Question, 0, len(raw))
	for i, r := range raw {
		q, err := ParseQuestion(r)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, q)
	}
	return out, nil
}
