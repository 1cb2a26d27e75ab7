package apxdef

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/cogu/apx-go/logging"
)

// Watcher watches a single on-disk `.apx` source file and re-parses it
// whenever it changes, handing the result to Changed. A node host uses
// this to notice a local definition edit and republish the updated
// definition without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	Changed chan *Definition
	log     logging.Func

	quit chan struct{}
	done chan struct{}
}

// NewWatcher starts watching path, parsing it once immediately. log may be
// nil (equivalent to logging.Discard).
func NewWatcher(path string, log logging.Func) (*Watcher, *Definition, error) {
	if log == nil {
		log = logging.Discard
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	def, err := Parse(string(text))
	if err != nil {
		return nil, nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		Changed: make(chan *Definition, 1),
		log:     log,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, def, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			text, err := os.ReadFile(w.path)
			if err != nil {
				w.log(logging.WarnLevel, "apxdef: reload read failed", "path", w.path, "err", err)
				continue
			}
			def, err := Parse(string(text))
			if err != nil {
				w.log(logging.WarnLevel, "apxdef: reload parse failed", "path", w.path, "err", err)
				continue
			}
			select {
			case w.Changed <- def:
			default:
				// Drop if the consumer hasn't drained the previous reload;
				// the next filesystem event will carry the latest state.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log(logging.WarnLevel, "apxdef: watch error", "path", w.path, "err", err)
		}
	}
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.quit)
	w.watcher.Close()
	<-w.done
}
