package media

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// ErrUnsupported marks files the renderer cannot decode (videos, RAW, heic).
// Callers treat it as "skip", not as a failure.
var ErrUnsupported = errors.New("unsupported media format")

// Renderer writes resized JPEG derivatives of library images into a cache
// directory. Output names are derived from the source path, so rendering is
// idempotent and a re-render simply overwrites.
type Renderer struct {
	cacheDir string
}

// NewRenderer creates the thumbs/ and previews/ subdirectories under
// cacheDir.
func NewRenderer(cacheDir string) (*Renderer, error) {
	for _, sub := range []string{"thumbs", "previews"} {
		if err := os.MkdirAll(filepath.Join(cacheDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Renderer{cacheDir: cacheDir}, nil
}

// ThumbnailPath is the cache location a thumbnail for src would occupy,
// whether or not it has been rendered yet.
func (r *Renderer) ThumbnailPath(src string) string {
	return filepath.Join(r.cacheDir, "thumbs", cacheName(src))
}

// PreviewPath is the cache location a preview for src would occupy.
func (r *Renderer) PreviewPath(src string) string {
	return filepath.Join(r.cacheDir, "previews", cacheName(src))
}

// RenderThumbnail decodes src, scales it to fit maxW x maxH, and writes a
// JPEG into the thumbnail cache. Returns the cache path.
func (r *Renderer) RenderThumbnail(src string, maxW, maxH int) (string, error) {
	return r.render(src, r.ThumbnailPath(src), maxW, maxH)
}

// RenderPreview is RenderThumbnail for the larger preview size.
func (r *Renderer) RenderPreview(src string, maxW, maxH int) (string, error) {
	return r.render(src, r.PreviewPath(src), maxW, maxH)
}

// Remove deletes any cached derivatives for src. Missing files are fine.
func (r *Renderer) Remove(src string) {
	os.Remove(r.ThumbnailPath(src))
	os.Remove(r.PreviewPath(src))
}

// SweepOrphans deletes cached derivatives whose name is not in keep, a set of
// cacheName values for all live source paths. Returns the number removed.
func (r *Renderer) SweepOrphans(keep map[string]struct{}) (int, error) {
	removed := 0
	for _, sub := range []string{"thumbs", "previews"} {
		entries, err := os.ReadDir(filepath.Join(r.cacheDir, sub))
		if err != nil {
			return removed, fmt.Errorf("read cache dir %s: %w", sub, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, live := keep[e.Name()]; live {
				continue
			}
			if err := os.Remove(filepath.Join(r.cacheDir, sub, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// CacheName returns the cache file name derived from a source path. Exposed
// so the orphan sweep can build its keep set from indexed paths.
func CacheName(src string) string {
	return cacheName(src)
}

func cacheName(src string) string {
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:]) + ".jpg"
}

func (r *Renderer) render(src, dst string, maxW, maxH int) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if !decodableExts[ext] {
		return "", fmt.Errorf("render %q: %w", src, ErrUnsupported)
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", src, err)
	}
	defer f.Close()

	img, err := decodeImage(ext, f)
	if err != nil {
		return "", fmt.Errorf("decode %q: %w", src, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resizeFit(img, maxW, maxH), &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("encode %q: %w", src, err)
	}

	// Write via temp + rename so a crash never leaves a truncated derivative.
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %q: %w", dst, err)
	}
	return dst, nil
}

func decodeImage(ext string, r io.Reader) (image.Image, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return jpeg.Decode(r)
	case ".png":
		return png.Decode(r)
	case ".gif":
		return gif.Decode(r)
	case ".webp":
		return webp.Decode(r)
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}

// resizeFit scales src to fit within the dstW x dstH bounding box, preserving
// the aspect ratio, using BiLinear interpolation. Images that already fit are
// returned unscaled.
func resizeFit(src image.Image, dstW, dstH int) image.Image {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return src
	}

	scale := float64(dstW) / float64(srcW)
	if s := float64(dstH) / float64(srcH); s < scale {
		scale = s
	}
	if scale >= 1.0 {
		return src
	}

	newW := max(1, int(float64(srcW)*scale))
	newH := max(1, int(float64(srcH)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}
