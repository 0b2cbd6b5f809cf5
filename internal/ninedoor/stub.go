package ninedoor

import (
	"errors"
	"sync"

	"github.com/cohesix/queenroot/internal/logging"
)

// Stub is an in-memory Bridge used where no real NineDoor worker transport
// is wired yet, and in tests. It mirrors the shape of the teacher's
// in-memory backend fakes (backend_test.go's memBackend): predictable state,
// no I/O, and optional error injection per-path.
type Stub struct {
	mu sync.Mutex

	lines   map[string][]string
	entries map[string][]string

	failPaths map[string]error
	failAll   error

	echoes  []EchoRecord
	spawned []string
	killed  []string
}

// EchoRecord captures one accepted Echo call for test assertions.
type EchoRecord struct {
	Path    string
	Payload string
}

// NewStub returns an empty Stub ready to be seeded with SetLines/SetEntries.
func NewStub() *Stub {
	return &Stub{
		lines:     make(map[string][]string),
		entries:   make(map[string][]string),
		failPaths: make(map[string]error),
	}
}

// SetLines seeds the content returned by Tail/Cat for path.
func (s *Stub) SetLines(path string, lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[path] = append([]string(nil), lines...)
}

// SetEntries seeds the content returned by List for path.
func (s *Stub) SetEntries(path string, entries []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = append([]string(nil), entries...)
}

// FailPath makes every call naming path return err.
func (s *Stub) FailPath(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = err
}

// FailAll makes every call return err regardless of path, simulating a
// detached or crashed worker.
func (s *Stub) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

func (s *Stub) errorFor(path string) error {
	if s.failAll != nil {
		return s.failAll
	}
	return s.failPaths[path]
}

// Tail returns only the lines at or beyond offset bytes into path's
// concatenated content, so a caller that threads back the offset it was
// last given sees just what arrived since its previous tail.
func (s *Stub) Tail(path string, offset uint64, audit *logging.Logger) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor(path); err != nil {
		return nil, err
	}
	if audit != nil {
		audit.Debug("ninedoor: tail armed", "path", path, "offset", offset)
	}
	all := s.lines[path]
	var cum uint64
	start := len(all)
	for i, l := range all {
		if cum >= offset {
			start = i
			break
		}
		cum += uint64(len(l))
	}
	return append([]string(nil), all[start:]...), nil
}

func (s *Stub) Cat(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor(path); err != nil {
		return nil, err
	}
	return append([]string(nil), s.lines[path]...), nil
}

func (s *Stub) List(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor(path); err != nil {
		return nil, err
	}
	return append([]string(nil), s.entries[path]...), nil
}

func (s *Stub) Echo(path, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor(path); err != nil {
		return err
	}
	s.echoes = append(s.echoes, EchoRecord{Path: path, Payload: payload})
	s.lines[path] = append(s.lines[path], payload)
	return nil
}

func (s *Stub) LogStream(audit *logging.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor("/log/queen.log"); err != nil {
		return err
	}
	if audit != nil {
		audit.Debug("ninedoor: log stream armed")
	}
	return nil
}

func (s *Stub) Spawn(payload string, audit *logging.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor("/queen/ctl"); err != nil {
		return err
	}
	s.spawned = append(s.spawned, payload)
	if audit != nil {
		audit.Info("ninedoor: spawn forwarded", "payload", payload)
	}
	return nil
}

func (s *Stub) Kill(id string, audit *logging.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorFor("/queen/ctl"); err != nil {
		return err
	}
	s.killed = append(s.killed, id)
	if audit != nil {
		audit.Info("ninedoor: kill forwarded", "id", id)
	}
	return nil
}

// Echoes, Spawned, and Killed expose recorded calls for test assertions.
func (s *Stub) Echoes() []EchoRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EchoRecord(nil), s.echoes...)
}

func (s *Stub) Spawned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spawned...)
}

func (s *Stub) Killed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.killed...)
}

// ErrDetached is a convenience sentinel for FailAll/FailPath in tests and
// for orchestrator wiring before a real bridge transport attaches.
var ErrDetached = errors.New("ninedoor: worker not attached")
