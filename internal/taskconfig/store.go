package taskconfig

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/metrics"
)

// Snapshot is an immutable view of the loaded task configs.
type Snapshot struct {
	Tasks    []domain.ScheduledTask
	LoadedAt time.Time
	Failures LoadErrors
}

// Fingerprint identifies the content of the snapshot. Two loads of
// unchanged files have the same fingerprint.
func (s *Snapshot) Fingerprint() string {
	var b []byte
	for _, t := range s.Tasks {
		b = append(b, t.ConfigName...)
		b = append(b, ':')
		b = append(b, t.Checksum...)
		b = append(b, '\n')
	}
	for _, f := range s.Failures {
		b = append(b, f.File...)
		b = append(b, ":!"...)
		b = append(b, f.Err.Error()...)
		b = append(b, '\n')
	}
	return Checksum(b)
}

// Store holds the current Snapshot of a config directory. Readers never
// block; Reload swaps in a new snapshot atomically.
type Store struct {
	dir     string
	current atomic.Pointer[Snapshot]
	reload  sync.Mutex

	clock   func() time.Time
	metrics metrics.Sink
	logger  zerolog.Logger
}

// NewStore returns a Store for dir with an empty snapshot. Call Reload to
// populate it.
func NewStore(dir string) *Store {
	s := &Store{
		dir:     dir,
		clock:   time.Now,
		metrics: metrics.NewNoopSink(),
		logger:  zerolog.Nop(),
	}
	s.current.Store(&Snapshot{})
	return s
}

// WithClock sets the source of snapshot timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithMetrics sets the metrics sink for the store.
func (s *Store) WithMetrics(sink metrics.Sink) *Store {
	if sink != nil {
		s.metrics = sink
	}
	return s
}

// WithLogger sets the logger for the store.
func (s *Store) WithLogger(logger zerolog.Logger) *Store {
	s.logger = logger.With().Str("component", "taskconfig").Logger()
	return s
}

// Dir returns the watched directory.
func (s *Store) Dir() string {
	return s.dir
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// ScheduledTasks returns the tasks of the current snapshot.
func (s *Store) ScheduledTasks() []domain.ScheduledTask {
	return s.Snapshot().Tasks
}

// Reload reads the directory and replaces the snapshot. Files that fail to
// load are logged, counted and recorded in Snapshot.Failures; they do not
// fail the reload. If the directory cannot be read the current snapshot is
// kept and the error returned.
func (s *Store) Reload() (*Snapshot, error) {
	s.reload.Lock()
	defer s.reload.Unlock()

	snap, err := s.load()
	if err != nil {
		return s.Snapshot(), err
	}
	s.current.Store(snap)
	return snap, nil
}

// reloadIfChanged is Reload that keeps the current snapshot when the
// directory content is unchanged.
func (s *Store) reloadIfChanged() (bool, error) {
	s.reload.Lock()
	defer s.reload.Unlock()

	snap, err := s.load()
	if err != nil {
		return false, err
	}
	if snap.Fingerprint() == s.Snapshot().Fingerprint() {
		return false, nil
	}
	s.current.Store(snap)
	return true, nil
}

func (s *Store) load() (*Snapshot, error) {
	tasks, err := LoadDir(s.dir)
	var loadErrs LoadErrors
	if err != nil && !errors.As(err, &loadErrs) {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("failed to read task config dir")
		return nil, err
	}

	for _, le := range loadErrs {
		s.metrics.ConfigLoadFailed()
		s.logger.Error().Err(le.Err).Str("file", le.File).Msg("skipping task config that failed to load")
	}
	s.metrics.ConfigsLoaded(len(tasks))
	s.logger.Info().
		Str("dir", s.dir).
		Int("loaded", len(tasks)).
		Int("failed", len(loadErrs)).
		Msg("task configs loaded")

	return &Snapshot{
		Tasks:    tasks,
		LoadedAt: s.clock().UTC(),
		Failures: loadErrs,
	}, nil
}
