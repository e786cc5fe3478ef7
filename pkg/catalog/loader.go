package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/rs/zerolog/log"
)

// Loader installs custom tool files and remembers which file owns which tool
// so that edits and deletions can be applied to the registry.
type Loader struct {
	reg *registry.Registry

	mu    sync.Mutex
	owned map[string][]string // absolute file path -> tool ids
}

// NewLoader creates a Loader for reg.
func NewLoader(reg *registry.Registry) *Loader {
	return &Loader{reg: reg, owned: make(map[string][]string)}
}

// LoadDir reads every catalog file directly inside dir. A missing directory
// is not an error.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog dir: %w", err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !IsCatalogFile(entry.Name()) || isHidden(entry.Name()) {
			continue
		}
		fileDocs, err := readFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func readFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseDocuments(path, data)
}

// LoadDir installs every catalog file in dir.
func (l *Loader) LoadDir(dir string) (Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{}, nil
		}
		return Report{}, fmt.Errorf("failed to read catalog dir: %w", err)
	}

	var report Report
	for _, entry := range entries {
		if entry.IsDir() || !IsCatalogFile(entry.Name()) || isHidden(entry.Name()) {
			continue
		}
		fileReport, err := l.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Error().Err(err).Str("path", entry.Name()).Msg("Failed to load custom tool file")
			continue
		}
		report.merge(fileReport)
	}
	return report, nil
}

// LoadFile installs or refreshes the tools declared in one file. Tools the
// file previously declared but no longer does are unregistered.
func (l *Loader) LoadFile(path string) (Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Report{}, err
	}
	docs, err := readFile(abs)
	if err != nil {
		return Report{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.owned[abs]
	defs, report := Decode(docs)

	var ids []string
	for i, def := range defs {
		doc := docs[i]
		for _, d := range docs {
			if d.ID() == def.ID {
				doc = d
				break
			}
		}

		if _, exists := l.reg.Get(def.ID); exists && contains(previous, def.ID) {
			if err := l.reg.Replace(def); err != nil {
				report.reject(doc, err)
				ids = append(ids, def.ID)
				continue
			}
			report.Replaced = append(report.Replaced, def.ID)
			ids = append(ids, def.ID)
			continue
		}
		if err := l.reg.Register(def); err != nil {
			report.reject(doc, err)
			continue
		}
		report.Registered = append(report.Registered, def.ID)
		ids = append(ids, def.ID)
	}

	for _, id := range previous {
		if contains(ids, id) {
			continue
		}
		if err := l.reg.Unregister(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
			log.Warn().Err(err).Str("tool", id).Msg("Failed to unregister dropped tool")
		}
	}

	sort.Strings(ids)
	if len(ids) == 0 {
		delete(l.owned, abs)
	} else {
		l.owned[abs] = ids
	}

	log.Info().
		Str("path", abs).
		Int("registered", len(report.Registered)).
		Int("replaced", len(report.Replaced)).
		Int("rejected", len(report.Rejected)).
		Msg("Custom tool file loaded")

	return report, nil
}

// RemoveFile unregisters every tool the file declared.
func (l *Loader) RemoveFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	ids := l.owned[abs]
	delete(l.owned, abs)
	l.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := l.reg.Unregister(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		log.Info().Str("path", abs).Strs("tools", ids).Msg("Custom tool file removed")
	}
	return errors.Join(errs...)
}

// Owned returns the tool ids loaded from path.
func (l *Loader) Owned(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.owned[abs]...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
