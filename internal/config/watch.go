package config

import (
	"context"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "herald/pkg/logx"
)

const (
	watchDebounce      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// WatchPath calls fn (debounced) whenever path changes. path may be a file
// or a directory; for a directory only .yaml/.yml/.json entries count. The
// fsnotify watcher is recreated with backoff if it breaks. WatchPath
// returns when ctx is done.
func WatchPath(ctx context.Context, path string, log logx.Logger, fn func()) error {
	dir, match := watchTarget(path)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := restartBackoffBase
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() == nil {
				fn()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("watch init failed", logx.String("dir", dir), logx.Any("err", err))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("watching for changes", logx.String("path", path))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if match(ev.Name) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				// Overflow may hide events; reload once.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					debounce()
					continue
				}
				log.Warn("watch error", logx.String("dir", dir), logx.Any("err", err))
			}
		}
		_ = w.Close()
		log.Warn("watcher stopped; restarting", logx.String("dir", dir))
		if !sleep() {
			return nil
		}
	}
	return nil
}

func watchTarget(path string) (string, func(string) bool) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path, func(name string) bool {
			switch strings.ToLower(filepath.Ext(name)) {
			case ".yaml", ".yml", ".json":
				return true
			}
			return false
		}
	}
	base := filepath.Base(path)
	return filepath.Dir(path), func(name string) bool {
		return strings.EqualFold(filepath.Base(name), base)
	}
}
