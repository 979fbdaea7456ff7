package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// imageExtensions is the set of attachment extensions worth thumbnailing;
// anything else passes through untouched.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".tiff": true,
}

// IsImage reports whether path's extension is one Thumbnail handles.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Thumbnail writes a width-bounded preview of src next to it (suffixed
// "_thumb"), preserving aspect ratio, for channel adapters that want a
// lightweight preview alongside the full attachment.
func Thumbnail(src string, maxWidth int) (string, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", src, err)
	}

	if img.Bounds().Dx() <= maxWidth {
		return src, nil
	}

	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)

	ext := filepath.Ext(src)
	dest := strings.TrimSuffix(src, ext) + "_thumb" + ext
	if err := imaging.Save(resized, dest); err != nil {
		return "", fmt.Errorf("save thumbnail %s: %w", dest, err)
	}
	return dest, nil
}
