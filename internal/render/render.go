// Package render rasterizes uploaded PDFs to page PNGs using pdftoppm
// (poppler-utils), with pdfcpu for page counting and decryption.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	_ "image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

const (
	defaultDPI      = 200
	defaultLongEdge = 1540
)

// ImageExtensions are upload extensions handled as single-page images
// instead of PDFs.
var ImageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}

// Config holds rasterization settings.
type Config struct {
	DPI        int
	LongEdgePx int
}

// Renderer rasterizes PDF pages.
type Renderer struct {
	dpi      int
	longEdge int
	log      *slog.Logger
}

// New creates a Renderer.
func New(cfg Config, log *slog.Logger) *Renderer {
	if cfg.DPI <= 0 {
		cfg.DPI = defaultDPI
	}
	if cfg.LongEdgePx <= 0 {
		cfg.LongEdgePx = defaultLongEdge
	}
	return &Renderer{
		dpi:      cfg.DPI,
		longEdge: cfg.LongEdgePx,
		log:      log.With("component", "render"),
	}
}

// Document is a PDF staged on disk for page rendering. Close removes the
// staging directory.
type Document struct {
	pdfPath string
	tmpDir  string
	pages   int
}

// Pages returns the page count.
func (d *Document) Pages() int {
	return d.pages
}

// Close removes the staged files.
func (d *Document) Close() error {
	return os.RemoveAll(d.tmpDir)
}

// Open stages PDF bytes on disk and counts pages. Encrypted PDFs are
// decrypted with an empty password; malformed input maps to a decode error.
func (r *Renderer) Open(data []byte) (*Document, error) {
	tmpDir, err := os.MkdirTemp("", "pricelens-render-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	pdfPath := filepath.Join(tmpDir, "original.pdf")
	if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("staging pdf: %w", err)
	}

	pages, err := pageCount(pdfPath)
	if err != nil {
		// Encrypted PDFs with an empty user password are common in
		// vendor pricelists.
		decPath := filepath.Join(tmpDir, "decrypted.pdf")
		if decErr := api.DecryptFile(pdfPath, decPath, nil); decErr == nil {
			if pages, err = pageCount(decPath); err == nil {
				pdfPath = decPath
			}
		}
		if err != nil {
			os.RemoveAll(tmpDir)
			return nil, apperr.Wrap(apperr.Decode, err, "unreadable pdf")
		}
	}
	if pages == 0 {
		os.RemoveAll(tmpDir)
		return nil, apperr.New(apperr.Decode, "pdf has no pages")
	}

	return &Document{pdfPath: pdfPath, tmpDir: tmpDir, pages: pages}, nil
}

func pageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return api.PageCount(f, nil)
}

// RenderPage rasterizes one page (1-based) to PNG. Pages render at the
// configured DPI; when that exceeds the long-edge cap the page is re-rendered
// scaled to the cap.
func (r *Renderer) RenderPage(ctx context.Context, doc *Document, pageNum int) ([]byte, error) {
	if pageNum < 1 || pageNum > doc.pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", pageNum, doc.pages)
	}

	data, err := r.runPdftoppm(ctx, doc, pageNum, "-r", strconv.Itoa(r.dpi))
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding rendered page %d: %w", pageNum, err)
	}
	if cfg.Width > r.longEdge || cfg.Height > r.longEdge {
		r.log.Debug("page exceeds long edge, rescaling",
			"page", pageNum, "width", cfg.Width, "height", cfg.Height, "cap", r.longEdge)
		return r.runPdftoppm(ctx, doc, pageNum, "-scale-to", strconv.Itoa(r.longEdge))
	}
	return data, nil
}

func (r *Renderer) runPdftoppm(ctx context.Context, doc *Document, pageNum int, sizeArgs ...string) ([]byte, error) {
	outPrefix := filepath.Join(doc.tmpDir, fmt.Sprintf("page_%d", pageNum))
	pageStr := strconv.Itoa(pageNum)

	args := []string{"-png", "-f", pageStr, "-l", pageStr, "-singlefile"}
	args = append(args, sizeArgs...)
	args = append(args, doc.pdfPath, outPrefix)

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w (output: %s)", pageNum, err, output)
	}

	outPath := outPrefix + ".png"
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no output for page %d: %w", pageNum, err)
	}
	os.Remove(outPath)
	return data, nil
}

// PreparePageImage converts an uploaded image into the single page PNG for a
// one-page upload. PNG input passes through untouched.
func PreparePageImage(data []byte, ext string) ([]byte, error) {
	if ext == "png" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, err, "unreadable image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding page png: %w", err)
	}
	return buf.Bytes(), nil
}
