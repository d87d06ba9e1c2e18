package canvas

import (
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
	"doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"svg": true, "webp": true, "bmp": true, "tiff": true,
}

// fileExtension returns the lower-cased extension when it is on the
// allow-list, "" otherwise.
func fileExtension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	ext := strings.ToLower(name[i+1:])
	if !allowedExtensions[ext] {
		return ""
	}
	return ext
}

// secureFilename reduces a client file name to a safe ASCII base name:
// directories are stripped, whitespace becomes '_', anything outside
// [A-Za-z0-9._-] is dropped, and leading/trailing dots are trimmed.
func secureFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			b.WriteRune(r)
		}
		lastUnderscore = r == '_'
	}
	return strings.Trim(b.String(), "._")
}

// storedFilename prefixes the sanitized name with a timestamp and a short
// random id so uploads never collide.
func storedFilename(now time.Time, original string) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8] + "_" + secureFilename(original)
}
