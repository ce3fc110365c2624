package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store used by tests and the memory build.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Upload(ctx context.Context, p string, r io.Reader, contentType string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	m.objects[clean] = memObject{data: buf.Bytes(), contentType: contentType}
	m.mu.Unlock()
	return Handle(clean), nil
}

func (m *Memory) PublicURL(_ context.Context, h Handle) (string, error) {
	return "mem://" + string(h), nil
}

func (m *Memory) Delete(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[string(h)]; !ok {
		return ErrNotFound
	}
	delete(m.objects, string(h))
	return nil
}

// Exists reports whether an object is stored at h.
func (m *Memory) Exists(h Handle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[string(h)]
	return ok
}

// Len is the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) Close() error { return nil }
