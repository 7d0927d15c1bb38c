// Package nfc owns the contactless reader. At most one scan task holds the
// reader at a time; cancelling the task frees it for the next one.
package nfc

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrBusy     = errors.New("nfc: reader busy")
	ErrCanceled = errors.New("nfc: scan canceled")
)

// Reader yields the serial number of the next tag presented. It must return
// when ctx is done.
type Reader interface {
	ReadTag(ctx context.Context) (string, error)
}

type Scanner struct {
	mu     sync.Mutex
	reader Reader
	active *Task
}

func NewScanner(reader Reader) *Scanner {
	return &Scanner{reader: reader}
}

// Start claims the reader for one tap. It fails with ErrBusy while another
// task still holds it.
func (s *Scanner) Start(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}
	s.active = task

	go func() {
		defer close(task.done)
		defer s.release(task)
		defer cancel()
		for {
			tag, err := s.reader.ReadTag(ctx)
			if ctx.Err() != nil {
				task.err = ErrCanceled
				return
			}
			if err != nil {
				task.err = err
				return
			}
			if tag = strings.TrimSpace(tag); tag != "" {
				task.tag = tag
				return
			}
		}
	}()
	return task, nil
}

// Busy reports whether a task currently holds the reader.
func (s *Scanner) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Scanner) release(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == task {
		s.active = nil
	}
}

type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	tag    string
	err    error
}

// Cancel abandons the scan. It is safe to call more than once.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until a tag is read, the task is cancelled, or ctx ends.
// Leaving through ctx does not cancel the task.
func (t *Task) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		return t.tag, t.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
