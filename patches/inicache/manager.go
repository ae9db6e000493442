// Package inicache replaces the host's private profile (INI) file API with
// an in-memory cache.
//
// The editor reads the same handful of INI files thousands of times during
// start up, and the system implementation reopens and reparses the file on
// every call. The Manager keeps each file parsed in memory, answers reads
// from it, applies writes to it and writes changed files back on Close.
package inicache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// networkINI is left to the system implementation. It is rarely read, and
// caching it would create it in the editor's root folder.
const networkINI = "ConstructionSetNetwork.ini"

func init() {
	// Profile files are written as key=value without alignment.
	ini.PrettyFormat = false
}

var loadOptions = ini.LoadOptions{
	Loose:                   true,
	IgnoreInlineComment:     true,
	IgnoreContinuation:      true,
	SkipUnrecognizableLines: true,
	PreserveSurroundedQuote: true,
	KeyValueDelimiters:      "=",
	// Duplicate keys are kept as shadows so the first one wins.
	AllowShadows: true,
}

// errQuotedText marks files the parser would read differently from the
// system: ini treats a leading backtick or triple quote as a quoted,
// possibly multi-line, string.
var errQuotedText = errors.New("quoted key or value")

// checkQuoting returns errQuotedText if a line of src starts a key or a
// value with a quote the parser would interpret.
func checkQuoting(src string) error {
	for i, line := range strings.Split(src, "\n") {
		line = strings.TrimLeft(line, whitespace)
		if line == "" || line[0] == '[' || line[0] == ';' || line[0] == '#' {
			continue
		}
		if line[0] == '`' || line[0] == '"' {
			return fmt.Errorf("%w: line %d", errQuotedText, i+1)
		}
		if _, v, ok := strings.Cut(line, "="); ok {
			v = strings.TrimLeft(v, whitespace)
			if strings.HasPrefix(v, "`") || strings.HasPrefix(v, `"""`) {
				return fmt.Errorf("%w: line %d", errQuotedText, i+1)
			}
		}
	}
	return nil
}

// Options configures a Manager.
type Options struct {
	// Fallback handles calls the cache does not serve.
	Fallback Profile
	// Getwd resolves "./" paths. Defaults to os.Getwd.
	Getwd  func() (string, error)
	Logger *slog.Logger
}

// Manager is a cache of parsed profile documents keyed by path.
type Manager struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	docs     map[string]*document
	fallback Profile
}

// New returns an empty Manager.
func New(opts Options) *Manager {
	m := &Manager{
		opts:     opts,
		log:      opts.Logger,
		docs:     make(map[string]*document),
		fallback: opts.Fallback,
	}
	if m.opts.Getwd == nil {
		m.opts.Getwd = os.Getwd
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	return m
}

// SetFallback replaces the fallback. The system fallback needs the Manager
// to exist before it can be built.
func (m *Manager) SetFallback(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = p
}

func (m *Manager) getFallback() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

// document is one cached file.
type document struct {
	path string

	once sync.Once
	mu   sync.RWMutex
	file *ini.File
	// readErr is set when the file exists but could not be read or parsed.
	// Calls for such a document go to the fallback and it is never written
	// back.
	readErr error
	dirty   bool
}

func (d *document) load(log *slog.Logger) {
	d.once.Do(func() {
		data, err := os.ReadFile(d.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			d.file = ini.Empty(loadOptions)
			return
		case err != nil:
			d.readErr = err
			log.Warn("profile unreadable, not cached", slog.String("path", d.path), slog.Any("error", err))
			return
		}

		src := DecodeNarrow(data)
		f, err := ini.LoadSources(loadOptions, []byte(src))
		if err == nil {
			err = checkQuoting(src)
		}
		if err != nil {
			d.readErr = err
			log.Warn("profile unparsable, not cached", slog.String("path", d.path), slog.Any("error", err))
			return
		}
		d.file = f
		log.Debug("profile cached", slog.String("path", d.path), slog.Int("sections", len(f.Sections())))
	})
}

// resolution is how a file argument is handled.
type resolution int

const (
	notFound resolution = iota
	passthrough
	cached
)

// resolve applies the path rules: a missing or empty path is not found, a
// path starting with "./" or ".\" is relative to the working directory,
// other relative paths and the network settings file go to the fallback.
func (m *Manager) resolve(file *string) (string, resolution) {
	if file == nil || *file == "" {
		return "", notFound
	}
	p := *file

	if strings.EqualFold(baseName(p), networkINI) {
		return "", passthrough
	}

	if !isAbsolute(p) {
		if !strings.HasPrefix(p, "./") && !strings.HasPrefix(p, `.\`) {
			return "", passthrough
		}
		wd, err := m.opts.Getwd()
		if err != nil {
			m.log.Warn("working directory unavailable", slog.String("path", p), slog.Any("error", err))
			return "", notFound
		}
		p = filepath.Join(wd, p[2:])
	}
	return filepath.Clean(p), cached
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// isAbsolute accepts both Windows and slash rooted paths so that the rules
// are the same on every platform.
func isAbsolute(p string) bool {
	switch {
	case strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`):
		return true
	case len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/'):
		return true
	}
	return false
}

func cacheKey(path string) string {
	return strings.ToLower(path)
}

// route resolves file to its cached document. When the cache does not
// serve file, d is nil and fb is the profile to use instead, or nil when
// the call should fail as not found.
func (m *Manager) route(file *string) (d *document, fb Profile) {
	path, how := m.resolve(file)
	if how == cached {
		d = m.open(path)
		if d.readErr == nil {
			return d, nil
		}
		how = passthrough
	}
	if how == passthrough {
		return nil, m.getFallback()
	}
	return nil, nil
}

// open returns the loaded document for path, creating it on first use.
func (m *Manager) open(path string) *document {
	key := cacheKey(path)

	m.mu.Lock()
	d, ok := m.docs[key]
	if !ok {
		d = &document{path: path}
		m.docs[key] = d
	}
	m.mu.Unlock()

	d.load(m.log)
	return d
}

// Logger returns the logger the Manager was built with.
func (m *Manager) Logger() *slog.Logger { return m.log }

// Len returns the number of cached documents.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Flush writes every changed document back to its file.
func (m *Manager) Flush() error {
	m.mu.Lock()
	docs := make([]*document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.Unlock()

	var errs []error
	for _, d := range docs {
		if err := m.flush(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) flush(d *document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.dirty || d.file == nil || d.readErr != nil {
		return nil
	}

	var buf bytes.Buffer
	if _, err := d.file.WriteTo(&buf); err != nil {
		return fmt.Errorf("write profile %s: %w", d.path, err)
	}
	if err := os.WriteFile(d.path, EncodeNarrow(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write profile %s: %w", d.path, err)
	}
	d.dirty = false
	m.log.Debug("profile flushed", slog.String("path", d.path))
	return nil
}

// Close flushes changed documents and empties the cache.
func (m *Manager) Close() error {
	err := m.Flush()

	m.mu.Lock()
	clear(m.docs)
	m.mu.Unlock()
	return err
}
