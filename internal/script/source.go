package script

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Source fetches scripts by scenario, character and language. A missing
// script is reported as [ErrNotFound].
type Source interface {
	Get(ctx context.Context, scenarioID, characterID, languageCode string) (*Script, error)
}

// key indexes scripts by their identifying triple. lang is lower-cased.
type key struct {
	scenario, character, lang string
}

func keyOf(s *Script) key {
	return key{s.ScenarioID, s.CharacterID, strings.ToLower(s.LanguageCode)}
}

// MemSource is an in-memory [Source].
type MemSource struct {
	mu      sync.RWMutex
	scripts map[key]*Script
}

// NewMemSource returns a source holding scripts. Later scripts replace
// earlier ones with the same triple.
func NewMemSource(scripts ...*Script) *MemSource {
	m := &MemSource{scripts: make(map[key]*Script, len(scripts))}
	for _, s := range scripts {
		m.scripts[keyOf(s)] = s
	}
	return m
}

// Put adds or replaces s.
func (m *MemSource) Put(s *Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[keyOf(s)] = s
}

// Get implements [Source].
func (m *MemSource) Get(_ context.Context, scenarioID, characterID, languageCode string) (*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.scripts, scenarioID, characterID, languageCode)
}

// lookup prefers an exact language match, then a script whose base language
// matches the requested one ("es" finds "es-MX" and "es-ES" finds "es").
// Several base matches resolve to the lexically smallest tag.
func lookup(scripts map[key]*Script, scenarioID, characterID, languageCode string) (*Script, error) {
	if s, ok := scripts[key{scenarioID, characterID, strings.ToLower(languageCode)}]; ok {
		return s, nil
	}
	want := baseLanguage(languageCode)
	var (
		best    *Script
		bestTag string
	)
	for k, s := range scripts {
		if k.scenario != scenarioID || k.character != characterID || baseLanguage(k.lang) != want {
			continue
		}
		if best == nil || k.lang < bestTag {
			best, bestTag = s, k.lang
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s/%s (%s)", ErrNotFound, scenarioID, characterID, languageCode)
	}
	return best, nil
}

func baseLanguage(tag string) string {
	if t, err := language.Parse(tag); err == nil {
		b, _ := t.Base()
		return b.String()
	}
	b, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(b)
}

// DirSource serves scripts stored as YAML or JSON documents in a directory,
// one script per file. Files ending in .yaml, .yml or .json are read; other
// files are ignored. A file that fails to parse or validate is logged and
// skipped so one bad script cannot take the others down.
type DirSource struct {
	dir string

	mu        sync.RWMutex
	scripts   map[key]*Script
	signature [sha256.Size]byte

	stopOnce sync.Once
	done     chan struct{}
}

// NewDirSource reads every script in dir.
func NewDirSource(dir string) (*DirSource, error) {
	d := &DirSource{dir: dir, done: make(chan struct{})}
	if _, err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Get implements [Source].
func (d *DirSource) Get(_ context.Context, scenarioID, characterID, languageCode string) (*Script, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lookup(d.scripts, scenarioID, characterID, languageCode)
}

// Len returns the number of scripts currently served.
func (d *DirSource) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.scripts)
}

// Reload rescans the directory. It reports whether the set of files changed
// since the last scan; an unchanged directory is not re-parsed.
func (d *DirSource) Reload() (bool, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return false, fmt.Errorf("script: read dir %s: %w", d.dir, err)
	}
	files := make([]string, 0, len(entries))
	h := sha256.New()
	for _, e := range entries {
		if e.IsDir() || !isScriptFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, fmt.Errorf("script: stat %s: %w", e.Name(), err)
		}
		files = append(files, e.Name())
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", e.Name(), info.Size(), info.ModTime().UnixNano())
	}
	var sig [sha256.Size]byte
	copy(sig[:], h.Sum(nil))

	d.mu.RLock()
	unchanged := d.scripts != nil && sig == d.signature
	d.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	sort.Strings(files)
	scripts := make(map[key]*Script, len(files))
	for _, name := range files {
		path := filepath.Join(d.dir, name)
		s, err := ReadFile(path)
		if err != nil {
			slog.Warn("script: skipping file", "path", path, "err", err)
			continue
		}
		k := keyOf(s)
		if prev, dup := scripts[k]; dup {
			slog.Warn("script: duplicate script, keeping the first", "path", path, "id", prev.ID)
			continue
		}
		scripts[k] = s
	}

	d.mu.Lock()
	d.scripts = scripts
	d.signature = sig
	d.mu.Unlock()
	slog.Info("script: directory loaded", "dir", d.dir, "scripts", len(scripts))
	return true, nil
}

// Watch polls the directory every interval and reloads it on change until
// ctx is cancelled or [DirSource.Stop] is called. It blocks.
func (d *DirSource) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if _, err := d.Reload(); err != nil {
				slog.Warn("script: reload failed", "dir", d.dir, "err", err)
			}
		}
	}
}

// Stop ends any running [DirSource.Watch].
func (d *DirSource) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

func isScriptFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ReadFile parses and validates the script document at path.
func ReadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Decode reads one YAML or JSON script document from r. Unknown fields are
// rejected. The decoded script is validated before it is returned.
func Decode(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrMalformedScript)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedScript, err)
	}
	if s.ScenarioID == "" || s.CharacterID == "" || s.LanguageCode == "" {
		return nil, fmt.Errorf("%w: scenarioId, characterId and languageCode are required", ErrMalformedScript)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
