package exam

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var collections = []string{"users", "templates", "exams", "attempts"}

// errCorrupt marks a document that cannot be recovered by migration.
type errCorrupt struct{ reason string }

func (e errCorrupt) Error() string { return "corrupt data file: " + e.reason }

func isCorrupt(err error) bool {
	var c errCorrupt
	return errors.As(err, &c)
}

// decodeDocument parses, migrates and decodes a stored document. changed
// reports whether migration touched anything, i.e. whether the file is
// stale and should be rewritten.
func decodeDocument(raw []byte) (doc Document, changed bool, err error) {
	var top any
	if err := json.Unmarshal(raw, &top); err != nil {
		return Document{}, false, errCorrupt{reason: err.Error()}
	}
	m, ok := top.(map[string]any)
	if !ok {
		// valid JSON of the wrong kind: start from an empty document
		m = map[string]any{}
		changed = true
	} else if ok, why := validEnvelope(raw); !ok {
		return Document{}, false, errCorrupt{reason: why}
	}
	if migrate(m) {
		changed = true
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return Document{}, false, errors.Wrap(err, "re-encode migrated document")
	}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return Document{}, false, errCorrupt{reason: err.Error()}
	}
	doc.normalize()
	return doc, changed, nil
}

// migrate brings a raw document up to the current schema in place:
// missing fields get zero values, legacy single correct_index questions
// become correct_indices, roles are canonicalized and numeric fields are
// coerced. Running it on its own output changes nothing.
func migrate(m map[string]any) bool {
	changed := false
	for _, c := range collections {
		if _, ok := m[c].([]any); !ok {
			m[c] = []any{}
			changed = true
		}
	}
	for _, u := range records(m["users"]) {
		changed = ensureString(u, "username") || changed
		changed = ensureString(u, "password") || changed
		changed = ensureString(u, "full_name") || changed
		changed = ensureString(u, "dob") || changed
		changed = ensureString(u, "student_id") || changed
		changed = ensureBool(u, "must_change_password") || changed
		role, _ := u["role"].(string)
		if canon := string(CanonicalRole(role)); canon != role {
			u["role"] = canon
			changed = true
		}
	}
	for _, t := range records(m["templates"]) {
		changed = ensureString(t, "template_id") || changed
		changed = ensureString(t, "title") || changed
		changed = ensureString(t, "created_by") || changed
		changed = migrateQuestions(t) || changed
	}
	for _, e := range records(m["exams"]) {
		for _, k := range []string{"exam_id", "template_id", "title", "created_by", "access_code", "password"} {
			changed = ensureString(e, k) || changed
		}
		for _, k := range []string{"duration_seconds", "attempt_limit", "start_ts", "end_ts"} {
			changed = ensureInt(e, k) || changed
		}
		changed = ensureBool(e, "allow_review") || changed
		changed = ensureBool(e, "enable_monitoring") || changed
		changed = migrateQuestions(e) || changed
	}
	for _, a := range records(m["attempts"]) {
		for _, k := range []string{"attempt_id", "exam_id", "code", "title", "username", "full_name", "student_id"} {
			changed = ensureString(a, k) || changed
		}
		changed = ensureFloat(a, "score") || changed
		changed = ensureFloat(a, "started_at") || changed
		changed = ensureFloat(a, "submitted_at") || changed
		changed = ensureInt(a, "total") || changed
		changed = ensureInt(a, "time_taken_seconds") || changed
		changed = ensureList(a, "answers") || changed
		changed = migrateAnswers(a) || changed
	}
	return changed
}

func migrateQuestions(owner map[string]any) bool {
	changed := ensureList(owner, "questions")
	for _, q := range records(owner["questions"]) {
		changed = ensureString(q, "text") || changed
		changed = ensureList(q, "options") || changed
		changed = ensureStringElems(q, "options") || changed
		legacy, hasLegacy := q["correct_index"]
		if _, ok := q["correct_indices"]; !ok && hasLegacy {
			idx, _ := toInt(legacy)
			q["correct_indices"] = []any{float64(idx)}
			changed = true
		}
		if hasLegacy {
			delete(q, "correct_index")
			changed = true
		}
		changed = ensureList(q, "correct_indices") || changed
		changed = ensureIntElems(q, "correct_indices") || changed
	}
	return changed
}

// migrateAnswers coerces every per-question selection to a list of ints.
func migrateAnswers(a map[string]any) bool {
	changed := false
	answers, _ := a["answers"].([]any)
	for i, sel := range answers {
		if _, ok := sel.([]any); !ok {
			answers[i] = []any{}
			changed = true
			continue
		}
		wrap := map[string]any{"v": sel}
		if ensureIntElems(wrap, "v") {
			answers[i] = wrap["v"]
			changed = true
		}
	}
	return changed
}

// records returns the object elements of a raw array; non-objects were
// already rejected by the envelope schema.
func records(v any) []map[string]any {
	arr, _ := v.([]any)
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if r, ok := e.(map[string]any); ok {
			out = append(out, r)
		}
	}
	return out
}

func ensureString(m map[string]any, k string) bool {
	switch v := m[k].(type) {
	case string:
		return false
	case float64:
		m[k] = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		m[k] = strconv.FormatBool(v)
	default:
		m[k] = ""
	}
	return true
}

func ensureBool(m map[string]any, k string) bool {
	switch v := m[k].(type) {
	case bool:
		return false
	case float64:
		m[k] = v != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		m[k] = b
	default:
		m[k] = false
	}
	return true
}

func ensureInt(m map[string]any, k string) bool {
	if f, ok := m[k].(float64); ok && f == math.Trunc(f) {
		return false
	}
	n, _ := toInt(m[k])
	m[k] = float64(n)
	return true
}

func ensureFloat(m map[string]any, k string) bool {
	switch v := m[k].(type) {
	case float64:
		return false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		m[k] = f
	default:
		m[k] = float64(0)
	}
	return true
}

func ensureList(m map[string]any, k string) bool {
	if _, ok := m[k].([]any); ok {
		return false
	}
	m[k] = []any{}
	return true
}

// ensureIntElems coerces the elements of the list at k to whole numbers,
// dropping those that are not numbers at all.
func ensureIntElems(m map[string]any, k string) bool {
	arr, _ := m[k].([]any)
	out := make([]any, 0, len(arr))
	changed := false
	for _, v := range arr {
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			out = append(out, f)
			continue
		}
		changed = true
		if n, ok := toInt(v); ok {
			out = append(out, float64(n))
		}
	}
	if changed {
		m[k] = out
	}
	return changed
}

// ensureStringElems coerces the elements of the list at k to strings.
// Elements keep their position, since indices elsewhere refer to them.
func ensureStringElems(m map[string]any, k string) bool {
	arr, _ := m[k].([]any)
	changed := false
	for i := range arr {
		wrap := map[string]any{"v": arr[i]}
		if ensureString(wrap, "v") {
			arr[i] = wrap["v"]
			changed = true
		}
	}
	return changed
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int64(f), true
		}
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
