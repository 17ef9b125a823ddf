package raster

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/irdigest/internal/deck"
)

const popplerTool = "pdftocairo"

// Install locations checked when the tool is not on PATH.
var popplerDirs = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}

// Poppler renders by running pdftocairo.
type Poppler struct {
	opts     Options
	lookPath func(string) (string, error)
	dirs     []string
}

func NewPoppler(opts Options) *Poppler {
	return &Poppler{opts: opts.withDefaults(), lookPath: exec.LookPath, dirs: popplerDirs}
}

// Check reports whether pdftocairo can be found.
func (p *Poppler) Check() error {
	_, err := p.findTool()
	return err
}

func (p *Poppler) findTool() (string, error) {
	if path, err := p.lookPath(popplerTool); err == nil {
		return path, nil
	}
	for _, dir := range p.dirs {
		path := filepath.Join(dir, popplerTool)
		if st, err := os.Stat(path); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s not found on PATH or in %s (install poppler-utils)",
		ErrToolMissing, popplerTool, strings.Join(p.dirs, ", "))
}

func (p *Poppler) Rasterize(ctx context.Context, data []byte) ([]deck.Page, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	tool, err := p.findTool()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "irdigest-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, tool,
		"-jpeg",
		"-r", strconv.Itoa(p.opts.DPI),
		"-jpegopt", "quality="+strconv.Itoa(p.opts.JPEGQuality),
		in, filepath.Join(dir, "page"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Exit status 1 is "error opening a PDF file".
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.TrimSpace(string(out)))
		}
		return nil, fmt.Errorf("%s: %w: %s", popplerTool, err, strings.TrimSpace(string(out)))
	}

	files, err := pageFiles(dir)
	if err != nil {
		return nil, err
	}
	pages := make([]deck.Page, 0, len(files))
	for _, pf := range files {
		page, err := p.loadPage(pf)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

type pageFile struct {
	index int
	path  string
}

// pageFiles lists page-N.jpg outputs sorted by N. pdftocairo zero-pads N
// to the width of the page count.
func pageFiles(dir string) ([]pageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	var files []pageFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".jpg"))
		if err != nil {
			continue
		}
		files = append(files, pageFile{index: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

func (p *Poppler) loadPage(pf pageFile) (deck.Page, error) {
	f, err := os.Open(pf.path)
	if err != nil {
		return deck.Page{}, fmt.Errorf("open page %d: %w", pf.index, err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return deck.Page{}, fmt.Errorf("decode page %d: %w", pf.index, err)
	}
	return encodePage(pf.index, img, p.opts)
}
