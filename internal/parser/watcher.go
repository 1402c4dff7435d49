package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jobpilot/internal/errors"
)

// LexiconWatcher reloads the parser lexicon when its override file changes.
type LexiconWatcher struct {
	mu sync.RWMutex

	path        string
	lastModTime time.Time

	fsWatcher     *fsnotify.Watcher
	debounceDelay time.Duration
	debounceTimer *time.Timer

	stopChan   chan struct{}
	reloadChan chan struct{}

	parser *Parser
	logger *errors.Logger

	running bool
}

// NewLexiconWatcher creates a watcher that feeds reloaded lexicons into p.
func NewLexiconWatcher(path string, debounceDelay time.Duration, p *Parser, logger *errors.Logger) (*LexiconWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("lexicon file path is required")
	}
	if debounceDelay == 0 {
		debounceDelay = time.Second
	}
	if logger == nil {
		logger = errors.NewNop()
	}
	return &LexiconWatcher{
		path:          path,
		debounceDelay: debounceDelay,
		stopChan:      make(chan struct{}),
		reloadChan:    make(chan struct{}, 1),
		parser:        p,
		logger:        logger,
	}, nil
}

// Start begins watching the lexicon file.
func (lw *LexiconWatcher) Start() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.running {
		return fmt.Errorf("lexicon watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	lw.fsWatcher = watcher

	if stat, err := os.Stat(lw.path); err == nil {
		lw.lastModTime = stat.ModTime()
	}

	// Watch the directory so atomic replacements (rename over the file) are seen.
	dir := filepath.Dir(lw.path)
	if err := lw.fsWatcher.Add(dir); err != nil {
		if closeErr := lw.fsWatcher.Close(); closeErr != nil {
			lw.logger.LogError(closeErr, "Failed to close file watcher during cleanup")
		}
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	lw.running = true
	go lw.watchLoop()

	lw.logger.Info("Lexicon file watcher started", "file", lw.path, "debounce_delay", lw.debounceDelay)
	return nil
}

// Stop stops the watcher.
func (lw *LexiconWatcher) Stop() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if !lw.running {
		return nil
	}
	close(lw.stopChan)
	if lw.debounceTimer != nil {
		lw.debounceTimer.Stop()
	}
	lw.running = false
	if err := lw.fsWatcher.Close(); err != nil {
		lw.logger.LogError(err, "Failed to close file system watcher")
		return err
	}
	lw.logger.Info("Lexicon file watcher stopped")
	return nil
}

// IsRunning reports whether the watcher is active.
func (lw *LexiconWatcher) IsRunning() bool {
	lw.mu.RLock()
	defer lw.mu.RUnlock()
	return lw.running
}

func (lw *LexiconWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-lw.fsWatcher.Events:
			if !ok {
				return
			}
			if lw.shouldProcessEvent(event) {
				lw.scheduleReload()
			}

		case err, ok := <-lw.fsWatcher.Errors:
			if !ok {
				return
			}
			lw.logger.LogError(err, "File watcher error")

		case <-lw.reloadChan:
			if lw.hasFileChanged() {
				lw.reload()
			}

		case <-lw.stopChan:
			return
		}
	}
}

func (lw *LexiconWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(lw.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (lw *LexiconWatcher) hasFileChanged() bool {
	stat, err := os.Stat(lw.path)
	if err != nil {
		return false
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if stat.ModTime().After(lw.lastModTime) {
		lw.lastModTime = stat.ModTime()
		return true
	}
	return false
}

// reload keeps the active lexicon when the new file does not parse.
func (lw *LexiconWatcher) reload() {
	lex, err := LoadLexicon(lw.path)
	if err != nil {
		lw.logger.LogError(err, "Lexicon reload failed, keeping previous lexicon", "file", lw.path)
		return
	}
	lw.parser.SetLexicon(lex)
	lw.logger.Info("Lexicon reloaded", "file", lw.path, "version", lex.Version)
}

func (lw *LexiconWatcher) scheduleReload() {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.debounceTimer != nil {
		lw.debounceTimer.Stop()
	}
	lw.debounceTimer = time.AfterFunc(lw.debounceDelay, func() {
		select {
		case lw.reloadChan <- struct{}{}:
		default:
		}
	})
}
