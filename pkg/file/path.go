package file

import (
	"path/filepath"
	"strings"
)

// Ext returns the extension of the base name, including the dot.
// Dotfiles such as ".gcode" have no extension.
func Ext(path string) string {
	base := filepath.Base(path)
	lastDot := strings.LastIndex(base, ".")
	if lastDot <= 0 {
		return ""
	}
	return base[lastDot:]
}

// EnsureExt appends ext unless name already ends with it (case-insensitive).
// Unlike a replace, the original extension is kept: "part.gcode" → "part.gcode.3mf".
func EnsureExt(name, ext string) string {
	if ext == "" {
		return name
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.EqualFold(Ext(name), ext) {
		return name
	}
	return name + ext
}
