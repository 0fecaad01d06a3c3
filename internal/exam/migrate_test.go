package exam

import (
	"encoding/json"
	"reflect"
	"testing"
)

const legacyDoc = `{
  "users": [
    {"username": "admin", "password": "admin", "role": "ADMIN"},
    {"username": "t1", "password": "x", "role": "teacher"},
    {"username": "s1", "password": "y", "role": "guest"},
    {"username": "s2", "password": "z"}
  ],
  "templates": [
    {"template_id": "TP1", "title": "Old", "questions": [
      {"text": "q1", "options": ["a", "b", "c", "d"], "correct_index": 2}
    ]}
  ],
  "exams": [
    {"exam_id": "EX1", "access_code": "ABC", "duration_seconds": "600", "start_ts": 1, "end_ts": 2,
     "questions": [{"text": "q1", "options": ["a", "b", "c", "d"], "correct_index": "3"}]}
  ],
  "attempts": [
    {"attempt_id": "AT1", "exam_id": "EX1", "score": "1", "total": 1, "answers": [[3]]}
  ]
}`

func TestDecodeDocument_LegacyFields(t *testing.T) {
	doc, changed, err := decodeDocument([]byte(legacyDoc))
	if err != nil {
		t.Fatalf("decodeDocument: %v", err)
	}
	if !changed {
		t.Fatalf("legacy document should report a change")
	}

	roles := map[string]Role{"admin": RoleAdmin, "t1": RoleTeacher, "s1": RoleStudent, "s2": RoleStudent}
	for _, u := range doc.Users {
		if u.Role != roles[u.Username] {
			t.Fatalf("%s role = %q, want %q", u.Username, u.Role, roles[u.Username])
		}
	}
	if got := doc.Templates[0].Questions[0].CorrectIndices; !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("template correct_indices = %v", got)
	}
	if got := doc.Exams[0].Questions[0].CorrectIndices; !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("exam correct_indices = %v", got)
	}
	if doc.Exams[0].DurationSeconds != 600 || doc.Exams[0].AttemptLimit != 0 {
		t.Fatalf("exam numbers = %+v", doc.Exams[0])
	}
	if doc.Attempts[0].Score != 1 || doc.Attempts[0].StartedAt != 0 {
		t.Fatalf("attempt numbers = %+v", doc.Attempts[0])
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	var m map[string]any
	if err := json.Unmarshal([]byte(legacyDoc), &m); err != nil {
		t.Fatal(err)
	}
	if !migrate(m) {
		t.Fatalf("first pass should change the legacy document")
	}
	once, _ := json.Marshal(m)
	if migrate(m) {
		t.Fatalf("second pass reported changes")
	}
	twice, _ := json.Marshal(m)
	if string(once) != string(twice) {
		t.Fatalf("second pass altered the document:\n%s\n%s", once, twice)
	}

	q := m["templates"].([]any)[0].(map[string]any)["questions"].([]any)[0].(map[string]any)
	if _, ok := q["correct_index"]; ok {
		t.Fatalf("legacy correct_index was kept")
	}
}

func TestMigrate_KeepsExplicitCorrectIndices(t *testing.T) {
	m := map[string]any{
		"templates": []any{map[string]any{
			"template_id": "TP1",
			"questions": []any{map[string]any{
				"text": "q", "options": []any{"a", "b", "c", "d"},
				"correct_indices": []any{float64(0), float64(1)},
				"correct_index":   float64(3),
			}},
		}},
	}
	migrate(m)
	q := m["templates"].([]any)[0].(map[string]any)["questions"].([]any)[0].(map[string]any)
	if got := q["correct_indices"].([]any); len(got) != 2 {
		t.Fatalf("correct_indices overwritten: %v", got)
	}
}

func TestMigrate_FillsMissingCollections(t *testing.T) {
	m := map[string]any{"users": []any{}}
	if !migrate(m) {
		t.Fatalf("missing collections should count as a change")
	}
	for _, c := range collections {
		if _, ok := m[c].([]any); !ok {
			t.Fatalf("collection %q missing after migrate", c)
		}
	}
}

func TestDecodeDocument_WrongEnvelopeIsCorrupt(t *testing.T) {
	_, _, err := decodeDocument([]byte(`{"users": [1, 2]}`))
	if !isCorrupt(err) {
		t.Fatalf("users of numbers should be corrupt, got %v", err)
	}
}

func TestDecodeDocument_MistypedNestedValuesAreCoerced(t *testing.T) {
	raw := `{
  "users": [{"username": "bob", "password": "pw", "role": "student"}],
  "templates": [{"template_id": "TP1", "questions": [
    {"text": "q", "options": ["a", 2, true, null], "correct_indices": ["1", 2.0, "x", null]}
  ]}],
  "exams": [],
  "attempts": [{"attempt_id": "AT1", "username": "bob", "answers": [[1], ["2"], "3", [0, "zz"]]}]
}`
	doc, changed, err := decodeDocument([]byte(raw))
	if err != nil {
		t.Fatalf("parsable document with mistyped values must migrate, got %v", err)
	}
	if !changed {
		t.Fatalf("coercion should report a change")
	}
	q := doc.Templates[0].Questions[0]
	if want := []string{"a", "2", "true", ""}; !reflect.DeepEqual(q.Options, want) {
		t.Fatalf("options = %q, want %q", q.Options, want)
	}
	if want := []int{1, 2}; !reflect.DeepEqual(q.CorrectIndices, want) {
		t.Fatalf("correct_indices = %v, want %v", q.CorrectIndices, want)
	}
	if want := [][]int{{1}, {2}, {}, {0}}; !reflect.DeepEqual(doc.Attempts[0].Answers, want) {
		t.Fatalf("answers = %v, want %v", doc.Attempts[0].Answers, want)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	migrate(m)
	if migrate(m) {
		t.Fatalf("coerced document changed on a second pass")
	}
}
