package exam

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/storage"
)

/* ---------------- In-memory backend that satisfies storage.Backend ---------------- */

type memBackend struct {
	mu          sync.Mutex
	data        []byte
	exists      bool
	saves       int
	failSave    bool
	quarantined map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{quarantined: map[string][]byte{}}
}

func withContents(raw string) *memBackend {
	b := newMemBackend()
	b.data = []byte(raw)
	b.exists = true
	return b
}

func (b *memBackend) Load() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return nil, storage.ErrNotExist
	}
	return append([]byte(nil), b.data...), nil
}

func (b *memBackend) Save(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave {
		return errors.New("disk full")
	}
	b.data = append([]byte(nil), data...)
	b.exists = true
	b.saves++
	return nil
}

func (b *memBackend) Quarantine(suffix string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return "", nil
	}
	b.quarantined[suffix] = b.data
	b.data, b.exists = nil, false
	return "mem." + suffix, nil
}

func (b *memBackend) setFailSave(v bool) {
	b.mu.Lock()
	b.failSave = v
	b.mu.Unlock()
}

func (b *memBackend) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func sampleQuestions() []Question {
	return []Question{
		{Text: "2 + 2 = ?", Options: []string{"3", "4", "5", "22"}, CorrectIndices: []int{1}},
		{Text: "Which are prime?", Options: []string{"2", "4", "3", "9"}, CorrectIndices: []int{0, 2}},
	}
}

func newTestStore(t interface{ Fatalf(string, ...any) }, b *memBackend, opts ...Option) *FileStore {
	s, err := NewFileStore(b, opts...)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}
