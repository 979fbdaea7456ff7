package artifacts

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestExtractSendFileDirectivesSingle(t *testing.T) {
	text := "Here's the patch.\n[send_file: /tmp/out/patch.diff]\nLet me know."
	cleaned, files := ExtractSendFileDirectives(text)
	if len(files) != 1 || files[0] != "/tmp/out/patch.diff" {
		t.Fatalf("got files=%v", files)
	}
	if strings.Contains(cleaned, "send_file") {
		t.Fatalf("directive not stripped: %q", cleaned)
	}
}

func TestExtractSendFileDirectivesDedup(t *testing.T) {
	text := "[send_file: a.png] some text [send_file: a.png] [send_file: b.png]"
	_, files := ExtractSendFileDirectives(text)
	if len(files) != 2 || files[0] != "a.png" || files[1] != "b.png" {
		t.Fatalf("got %v", files)
	}
}

func TestExtractSendFileDirectivesNone(t *testing.T) {
	cleaned, files := ExtractSendFileDirectives("plain response, nothing attached")
	if files != nil {
		t.Fatalf("expected nil files, got %v", files)
	}
	if cleaned != "plain response, nothing attached" {
		t.Fatalf("got %q", cleaned)
	}
}

func TestSpillToFileUnderLimit(t *testing.T) {
	dir := t.TempDir()
	path, err := SpillToFile(dir, "msg-1", "short text", 100)
	if err != nil {
		t.Fatalf("spill: %v", err)
	}
	if path != "" {
		t.Fatalf("expected no spill under the limit, got %q", path)
	}
}

func TestSpillToFileOverLimit(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", 200)
	path, err := SpillToFile(dir, "msg-1", long, 100)
	if err != nil {
		t.Fatalf("spill: %v", err)
	}
	if path == "" {
		t.Fatal("expected a spill path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read spilled file: %v", err)
	}
	if string(data) != long {
		t.Fatal("spilled content mismatch")
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected spill in %q, got %q", dir, path)
	}
}

func TestTruncated(t *testing.T) {
	short := "hi"
	if Truncated(short, 100) != short {
		t.Fatal("short text should pass through unchanged")
	}
	long := strings.Repeat("a", 50)
	out := Truncated(long, 10)
	if !strings.HasPrefix(out, strings.Repeat("a", 10)) {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation note, got %q", out)
	}
}

func TestThumbnailResizesWideImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.png")
	writeTestPNG(t, src, 2000, 100)

	out, err := Thumbnail(src, 500)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if out == src {
		t.Fatal("expected a distinct thumbnail path for an over-width image")
	}
	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("open thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 500 {
		t.Fatalf("expected thumbnail width 500, got %d", img.Bounds().Dx())
	}
}

func TestThumbnailLeavesNarrowImageUntouched(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "narrow.png")
	writeTestPNG(t, src, 200, 100)

	out, err := Thumbnail(src, 500)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if out != src {
		t.Fatalf("expected the original path back for an already-narrow image, got %q", out)
	}
}

func TestIsImage(t *testing.T) {
	cases := map[string]bool{
		"photo.png":  true,
		"photo.JPG":  true,
		"archive.zip": false,
		"notes.txt":  false,
	}
	for name, want := range cases {
		if got := IsImage(name); got != want {
			t.Fatalf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}
