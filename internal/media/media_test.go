package media

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writePNG writes a w x h test image and returns its path.
func writePNG(tb testing.TB, dir, name string, w, h int) string {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		tb.Fatal(err)
	}
	return path
}

func mustRenderer(tb testing.TB) *Renderer {
	tb.Helper()
	r, err := NewRenderer(tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	return r
}

func TestDetect(t *testing.T) {
	cases := map[string]FileType{
		"/a/photo.JPG":  FileTypeImage,
		"/a/photo.webp": FileTypeImage,
		"/a/clip.mp4":   FileTypeVideo,
		"/a/notes.txt":  FileTypeOther,
	}
	for path, want := range cases {
		if got := Detect(path); got != want {
			t.Errorf("Detect(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRenderThumbnailDownscales(t *testing.T) {
	r := mustRenderer(t)
	src := writePNG(t, t.TempDir(), "big.png", 800, 600)

	out, err := r.RenderThumbnail(src, 100, 100)
	if err != nil {
		t.Fatalf("RenderThumbnail: %v", err)
	}
	if out != r.ThumbnailPath(src) {
		t.Errorf("output path %q, want %q", out, r.ThumbnailPath(src))
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	// 800x600 into 100x100 keeps the 4:3 ratio.
	if cfg.Width != 100 || cfg.Height != 75 {
		t.Errorf("thumbnail %dx%d, want 100x75", cfg.Width, cfg.Height)
	}
}

func TestRenderSkipsUpscaling(t *testing.T) {
	r := mustRenderer(t)
	src := writePNG(t, t.TempDir(), "small.png", 40, 30)

	out, err := r.RenderThumbnail(src, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("got %dx%d, want original 40x30", cfg.Width, cfg.Height)
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	r := mustRenderer(t)
	_, err := r.RenderThumbnail("/photos/clip.mp4", 100, 100)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestRenderCorruptFile(t *testing.T) {
	r := mustRenderer(t)
	src := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(src, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RenderThumbnail(src, 100, 100); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRemoveAndSweep(t *testing.T) {
	r := mustRenderer(t)
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 50, 50)
	b := writePNG(t, dir, "b.png", 50, 50)

	if _, err := r.RenderThumbnail(a, 32, 32); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RenderThumbnail(b, 32, 32); err != nil {
		t.Fatal(err)
	}

	r.Remove(a)
	if _, err := os.Stat(r.ThumbnailPath(a)); !os.IsNotExist(err) {
		t.Error("thumbnail for a survived Remove")
	}

	// Sweep with an empty keep set drops b's thumbnail too.
	n, err := r.SweepOrphans(map[string]struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d files, want 1", n)
	}

	// Sweep honors the keep set.
	if _, err := r.RenderThumbnail(b, 32, 32); err != nil {
		t.Fatal(err)
	}
	n, err = r.SweepOrphans(map[string]struct{}{CacheName(b): {}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("swept %d files, want 0", n)
	}
}

func TestContentHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ContentHash(path)
	if err != nil {
		t.Fatal(err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("ContentHash = %s, want %s", got, want)
	}
	if _, err := ContentHash(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMetadataJSONPlainImage(t *testing.T) {
	src := writePNG(t, t.TempDir(), "p.png", 64, 48)
	got, err := MetadataJSON(src)
	if err != nil {
		t.Fatal(err)
	}
	// No EXIF in a bare PNG, but dimensions come from the header.
	if got != `{"width":64,"height":48}` {
		t.Errorf("MetadataJSON = %s", got)
	}
}
