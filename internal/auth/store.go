package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Store keeps the current session in memory, backed by a JSON file.
// Subscribers are told whenever the session changes, whether through Save
// and Clear or through an external edit picked up by Watch.
type Store struct {
	path string

	mu      sync.RWMutex
	current *Session
	subs    map[int]chan struct{}
	nextSub int
}

func NewStore(path string) *Store {
	return &Store{path: path, subs: make(map[int]chan struct{})}
}

func (s *Store) Path() string { return s.path }

// Load reads the session file. A missing file clears the session and
// returns ErrNoSession.
func (s *Store) Load() (Session, error) {
	sess, err := s.read()
	s.mu.Lock()
	if err != nil {
		s.current = nil
	} else {
		s.current = &sess
	}
	s.mu.Unlock()
	return sess, err
}

func (s *Store) read() (Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("parse session: %w", err)
	}
	return sess, nil
}

func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Save writes the session file through a temp file and rename.
func (s *Store) Save(sess Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	log.Info().Str("module", "auth").Str("user", sess.User.Name).Msg("session saved")
	s.notify()
	return nil
}

// Clear forgets the session and removes the file.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	log.Info().Str("module", "auth").Msg("session cleared")
	s.notify()
	return nil
}

// Subscribe returns a channel that receives a value after every session
// change. Notifications coalesce: a slow reader sees at least one value
// after the latest change. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch reloads the session whenever the file changes on disk and
// notifies subscribers. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch session dir: %w", err)
	}
	name := filepath.Clean(s.path)
	log.Info().Str("module", "auth").Str("file", name).Msg("watching session")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if _, err := s.Load(); err != nil && !errors.Is(err, ErrNoSession) {
				log.Warn().Err(err).Str("module", "auth").Msg("session reload failed")
			}
			log.Info().Str("module", "auth").Str("op", event.Op.String()).Msg("session changed")
			s.notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("module", "auth").Msg("watcher error")
		}
	}
}
