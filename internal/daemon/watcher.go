package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp is the kind of change seen in the backup.
type EventOp int

const (
	OpCreate EventOp = iota
	OpModify
	// OpDelete also covers renames away; the new name arrives as OpCreate.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// watchedExt lists the backup files whose changes can alter a notebook.
var watchedExt = map[string]bool{
	".metadata": true,
	".content":  true,
	".pdf":      true,
}

// FileEvent is a relevant change below the backup root.
type FileEvent struct {
	// Path is the absolute path that changed.
	Path string
	Op   EventOp
	Dir  bool

	// Key is the notebook key the change belongs to: the slash-separated
	// directory of Path relative to the root, or Path itself for
	// directories.
	Key string
}

// FileWatcher watches a backup root and every directory below it.
// Directories created after Start are added as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFileWatcher creates a stopped watcher.
func NewFileWatcher() (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		watcher: w,
		events:  make(chan FileEvent, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching root recursively. Hidden directories are skipped.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fw.root = abs

	if err := fw.addTree(abs); err != nil {
		return fmt.Errorf("failed to watch backup root %s: %w", abs, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.loop()
	return nil
}

// addTree adds dir and every non-hidden directory below it.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(p); err != nil {
			if p == dir {
				return err
			}
			fw.report(fmt.Errorf("failed to watch %s: %w", p, err))
		}
		return nil
	})
}

func (fw *FileWatcher) report(err error) {
	select {
	case fw.errors <- err:
	default:
	}
}

// Stop ends the watch and closes both channels once the event loop has
// exited. Stopping a watcher that never started only releases fsnotify.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	closeErr := fw.watcher.Close()
	fw.wg.Wait()
	close(fw.events)
	close(fw.errors)

	if closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Events is closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent { return fw.events }

// Errors is closed by Stop.
func (fw *FileWatcher) Errors() <-chan error { return fw.errors }

func (fw *FileWatcher) loop() {
	defer fw.wg.Done()

	for {
		var out chan<- FileEvent
		var ev FileEvent
		select {
		case <-fw.done:
			return
		case raw, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			var relevant bool
			if ev, relevant = fw.translate(raw); !relevant {
				continue
			}
			out = fw.events
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.report(err)
			continue
		}

		select {
		case out <- ev:
		case <-fw.done:
			return
		}
	}
}

// translate maps an fsnotify event onto a FileEvent. Hidden files, files
// other than notebook parts, and attribute-only changes are dropped.
func (fw *FileWatcher) translate(event fsnotify.Event) (FileEvent, bool) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename shows up again as a create under the new name.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	isDir := false
	if op == OpCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if err := fw.addTree(event.Name); err != nil {
				fw.report(fmt.Errorf("failed to watch new directory %s: %w", event.Name, err))
			}
		}
	}

	ext := filepath.Ext(event.Name)
	switch {
	case isDir:
	case op == OpDelete && ext == "":
		// A deleted directory can no longer be stat'ed.
	case !watchedExt[ext]:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Op: op, Dir: isDir, Key: fw.keyOf(event.Name, isDir)}, true
}

func (fw *FileWatcher) keyOf(path string, dir bool) string {
	if !dir {
		path = filepath.Dir(path)
	}
	rel, err := filepath.Rel(fw.root, path)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
