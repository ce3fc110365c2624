package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FS stores objects as files under a root directory. PublicURL joins the
// object path onto baseURL, or returns a file:// URL when baseURL is empty.
type FS struct {
	root    string
	baseURL string
}

func NewFS(root, baseURL string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (f *FS) file(h Handle) (string, error) {
	clean, err := CleanPath(string(h))
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *FS) Upload(ctx context.Context, p string, r io.Reader, _ string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	dst, _ := f.file(Handle(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("commit object: %w", err)
	}
	return Handle(clean), nil
}

func (f *FS) PublicURL(_ context.Context, h Handle) (string, error) {
	dst, err := f.file(h)
	if err != nil {
		return "", err
	}
	if f.baseURL != "" {
		return f.baseURL + "/" + string(h), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (f *FS) Delete(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := f.file(h)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (f *FS) Close() error { return nil }
