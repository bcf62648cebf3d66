package emulator

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/devicelab-dev/agentenv/pkg/logger"
)

// logTail reads a log sink incrementally from a fixed starting offset and
// scans it for a marker that may straddle two reads.
type logTail struct {
	path    string
	file    *os.File
	marker  []byte
	carry   []byte
	read    int64
	watcher *fsnotify.Watcher
}

func openLogTail(path string, offset int64, marker string) (*logTail, error) {
	f, err := os.Open(path) //#nosec G304 -- log sink created by the controller
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	t := &logTail{path: filepath.Clean(path), file: f, marker: []byte(marker)}

	// File events only wake the reader early. Polling still works without them.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(filepath.Dir(path)); err == nil {
			t.watcher = w
		} else {
			logger.Debug("log watch unavailable for %s: %v", path, err)
			w.Close()
		}
	}
	return t, nil
}

// events returns write notifications for the log file, or nil when the
// watcher could not be set up.
func (t *logTail) events() <-chan fsnotify.Event {
	if t.watcher == nil {
		return nil
	}
	return t.watcher.Events
}

// errors returns watcher failures, or nil without a watcher.
func (t *logTail) errors() <-chan error {
	if t.watcher == nil {
		return nil
	}
	return t.watcher.Errors
}

// isWrite reports whether ev is a write to the tailed file.
func (t *logTail) isWrite(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == t.path && ev.Op&fsnotify.Write != 0
}

// next reads everything appended since the last call. It reports the
// number of new bytes and whether the marker has been seen.
func (t *logTail) next() (int, bool, error) {
	data, err := io.ReadAll(t.file)
	if err != nil {
		return 0, false, err
	}
	if len(data) == 0 {
		return 0, false, nil
	}
	t.read += int64(len(data))

	if len(t.marker) == 0 {
		return len(data), false, nil
	}
	window := append(t.carry, data...)
	if bytes.Contains(window, t.marker) {
		return len(data), true, nil
	}
	keep := len(t.marker) - 1
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	t.carry = append([]byte(nil), window...)
	return len(data), false, nil
}

func (t *logTail) close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
	t.file.Close()
}
