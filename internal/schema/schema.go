// Package schema holds the read-only schema context shared by every session.
//
// The artifact is a markdown document describing the warehouse (tables,
// columns, relationships, business terms). It is loaded once and never
// mutated; refreshing it is the job of whatever generates the file.
package schema

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// MaxSize bounds the schema document.
const MaxSize = 4 * 1024 * 1024

// ErrEmpty is returned for a schema document with no content.
var ErrEmpty = errors.New("schema document is empty")

// Artifact is an immutable schema document. All accessors are safe for
// unlimited concurrent readers.
type Artifact struct {
	text     string
	digest   string
	tables   []string
	source   string
	loadedAt time.Time
}

// New builds an artifact from document text.
func New(source, text string) (*Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	if len(text) > MaxSize {
		return nil, fmt.Errorf("schema document exceeds %d bytes", MaxSize)
	}
	sum := sha256.Sum256([]byte(text))
	return &Artifact{
		text:     text,
		digest:   hex.EncodeToString(sum[:]),
		tables:   parseTables(text),
		source:   source,
		loadedAt: time.Now(),
	}, nil
}

// Load reads the document at path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("schema context file not found: %s (generate it from the warehouse metadata first)", path)
		}
		return nil, fmt.Errorf("failed to read schema context: %w", err)
	}
	return New(path, string(data))
}

// Text returns the full document.
func (a *Artifact) Text() string { return a.text }

// Digest returns the hex sha256 of the document.
func (a *Artifact) Digest() string { return a.digest }

// Tables returns the table names declared by level-3 headings.
func (a *Artifact) Tables() []string { return append([]string(nil), a.tables...) }

// HasTable reports whether name is declared, ignoring case.
func (a *Artifact) HasTable(name string) bool {
	for _, t := range a.tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// Source returns where the document came from.
func (a *Artifact) Source() string { return a.source }

// LoadedAt returns when the artifact was built.
func (a *Artifact) LoadedAt() time.Time { return a.loadedAt }

// parseTables collects "### `name`" headings.
func parseTables(text string) []string {
	var tables []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), MaxSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "### ") {
			continue
		}
		name := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "### ")), "`")
		if name != "" && !strings.ContainsAny(name, " \t") {
			tables = append(tables, name)
		}
	}
	return tables
}

// Loader loads an artifact on first use and hands the same one to every
// caller for the life of the process.
type Loader struct {
	path string
	once sync.Once
	art  *Artifact
	err  error
}

// NewLoader returns a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Get returns the artifact, loading it on the first call.
func (l *Loader) Get() (*Artifact, error) {
	l.once.Do(func() {
		l.art, l.err = Load(l.path)
	})
	return l.art, l.err
}
