package practice

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemas holds the resolved payload schema of every question type.
var schemas = map[Kind]*jsonschema.Resolved{
	ReadAloud: mustResolve(ReadAloud, map[string]*jsonschema.Schema{
		"text": text(),
	}, "text"),
	RepeatSentence: mustResolve(RepeatSentence, map[string]*jsonschema.Schema{
		"audio_text": text(),
	}, "audio_text"),
	DescribeImage: mustResolve(DescribeImage, map[string]*jsonschema.Schema{
		"image_url":   text(),
		"description": {Type: "string"},
	}, "image_url"),
	RetellLecture: mustResolve(RetellLecture, map[string]*jsonschema.Schema{
		"lecture_text": text(),
	}, "lecture_text"),
	AnswerShortQuestion: mustResolve(AnswerShortQuestion, map[string]*jsonschema.Schema{
		"question": text(),
		"answers":  list(1, false),
	}, "question", "answers"),
	MultiSelect: mustResolve(MultiSelect, map[string]*jsonschema.Schema{
		"audio_text": text(),
		"prompt":     {Type: "string"},
		"options":    list(2, true),
		"correct":    list(1, true),
	}, "audio_text", "options", "correct"),
}

// text is a string with at least one non-space character.
func text() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Pattern: `\S`}
}

func list(minItems int, unique bool) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Items:       text(),
		MinItems:    jsonschema.Ptr(minItems),
		UniqueItems: unique,
	}
}

// mustResolve builds the closed object schema of one question type. Every
// payload carries an id and its type tag besides the fields given.
func mustResolve(kind Kind, fields map[string]*jsonschema.Schema, required ...string) *jsonschema.Resolved {
	props := map[string]*jsonschema.Schema{
		"id":   text(),
		"type": {Type: "string", Enum: []any{string(kind)}},
	}
	for name, s := range fields {
		props[name] = s
	}
	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             append([]string{"id", "type"}, required...),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("practice: %s schema: %v", kind, err))
	}
	return resolved
}
