// Package taskconfig loads scheduled task configs from a directory of
// *.schedule.json and *.schedule.yaml files.
package taskconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/solari23/HarmonyBadger/internal/domain"
)

// FileSuffixes are the accepted config file name endings, matched
// case-insensitively.
var FileSuffixes = []string{".schedule.json", ".schedule.yaml", ".schedule.yml"}

// IsTaskConfigFile reports whether name is a task config file name.
func IsTaskConfigFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range FileSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// LoadError reports one config file that could not be loaded.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadErrors collects the failures of a directory load.
type LoadErrors []*LoadError

func (e LoadErrors) Error() string {
	if len(e) == 1 {
		return "load task config " + e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d task configs failed to load:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e LoadErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}

// Files lists the names of the failed files.
func (e LoadErrors) Files() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.File
	}
	return out
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Parse decodes and validates one config file body. name selects the
// format by extension and becomes the record's ConfigName.
func Parse(name string, data []byte) (domain.ScheduledTask, error) {
	jb, err := coerceToJSONBytes(name, data)
	if err != nil {
		return domain.ScheduledTask{}, err
	}

	var st domain.ScheduledTask
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("decode: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return domain.ScheduledTask{}, errors.New("decode: trailing data")
		}
		return domain.ScheduledTask{}, fmt.Errorf("decode: %w", err)
	}

	if err := st.Validate(); err != nil {
		return domain.ScheduledTask{}, err
	}

	st.ConfigName = name
	st.Checksum = Checksum(data)
	return st, nil
}

// ParseFile reads and parses the config file at path.
func ParseFile(path string) (domain.ScheduledTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	return Parse(filepath.Base(path), data)
}

// LoadDir parses every task config file directly inside dir, in file name
// order. Files that fail are reported in the returned LoadErrors and left
// out of the result; an unreadable directory is returned as a plain error.
func LoadDir(dir string) ([]domain.ScheduledTask, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read task config dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsTaskConfigFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tasks := make([]domain.ScheduledTask, 0, len(names))
	var errs LoadErrors
	for _, name := range names {
		st, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, &LoadError{File: name, Err: err})
			continue
		}
		tasks = append(tasks, st)
	}

	if len(errs) > 0 {
		return tasks, errs
	}
	return tasks, nil
}
