package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Local is a Sink over a directory on the local filesystem. File IDs are
// absolute paths.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (Local) ListPDFs(_ context.Context, folder string) ([]File, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, classifyFS(err))
	}
	var out []File
	for _, e := range entries {
		if e.IsDir() || !IsPDF(e.Name()) {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(folder, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, File{ID: abs, Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (Local) Download(_ context.Context, id string) ([]byte, error) {
	f, err := os.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, classifyFS(err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("read %s: %w", id, ErrTooLarge)
	}
	return data, nil
}

func (Local) EnsureResultFolder(_ context.Context, parent string) (string, error) {
	dir := filepath.Join(parent, ResultFolderName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create result folder: %w", classifyFS(err))
	}
	return dir, nil
}

func (Local) UploadReport(_ context.Context, folder, name string, markdown []byte) (string, error) {
	p := filepath.Join(folder, filepath.Base(name))
	if err := os.WriteFile(p, markdown, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, classifyFS(err))
	}
	return p, nil
}

func (Local) Rename(_ context.Context, id, name string) (string, error) {
	target := filepath.Join(filepath.Dir(id), filepath.Base(name))
	if err := os.Rename(id, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", id, classifyFS(err))
	}
	return target, nil
}

func classifyFS(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wrap(ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return wrap(ErrPermission, err)
	}
	return err
}
