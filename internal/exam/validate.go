package exam

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const questionSchema = `{
  "type": "object",
  "required": ["text", "options", "correct_indices"],
  "properties": {
    "text": {"type": "string", "pattern": "\\S"},
    "options": {
      "type": "array",
      "minItems": 4,
      "maxItems": 4,
      "items": {"type": "string", "pattern": "\\S"}
    },
    "correct_indices": {
      "type": "array",
      "minItems": 1,
      "maxItems": 4,
      "uniqueItems": true,
      "items": {"type": "integer", "minimum": 0, "maximum": 3}
    }
  }
}`

// documentSchema only pins the envelope: an object whose known collections
// are arrays of objects. Field-level gaps are the migration's job.
const documentSchema = `{
  "type": "object",
  "properties": {
    "users":     {"type": "array", "items": {"type": "object"}},
    "templates": {"type": "array", "items": {"type": "object"}},
    "exams":     {"type": "array", "items": {"type": "object"}},
    "attempts":  {"type": "array", "items": {"type": "object"}}
  }
}`

var (
	schemaOnce  sync.Once
	questionSch *gojsonschema.Schema
	documentSch *gojsonschema.Schema
	schemaErr   error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		questionSch, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionSchema))
		if schemaErr != nil {
			schemaErr = errors.Wrap(schemaErr, "compile question schema")
			return
		}
		documentSch, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
		if schemaErr != nil {
			schemaErr = errors.Wrap(schemaErr, "compile document schema")
		}
	})
	return schemaErr
}

// ValidateQuestion rejects malformed questions: empty text, anything other
// than four non-blank options, or a correct set that is empty, repeats an
// index, or points outside 0..3.
func ValidateQuestion(q Question) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	res, err := questionSch.Validate(gojsonschema.NewGoLoader(q))
	if err != nil {
		return errors.Wrap(err, "validate question")
	}
	if !res.Valid() {
		return NewInvalid("malformed question: %s", describe(res))
	}
	return nil
}

// ValidateQuestions validates every question and requires at least one.
func ValidateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return NewInvalid("at least one question is required")
	}
	for i, q := range qs {
		if err := ValidateQuestion(q); err != nil {
			if IsInvalid(err) {
				return NewInvalid("question %d: %s", i+1, err.Error())
			}
			return err
		}
	}
	return nil
}

// validEnvelope reports whether raw has the document's top-level shape.
func validEnvelope(raw []byte) (bool, string) {
	if err := loadSchemas(); err != nil {
		return false, err.Error()
	}
	res, err := documentSch.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false, err.Error()
	}
	if !res.Valid() {
		return false, describe(res)
	}
	return true, ""
}

func describe(res *gojsonschema.Result) string {
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
