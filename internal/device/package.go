package device

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/MimeLyc/print-queue/pkg/file"
)

const (
	threeMFExt       = ".3mf"
	plateGcodeEntry  = "Metadata/plate_1.gcode"
	defaultPlateSlot = 1
)

// Package3MF wraps raw G-code in a 3MF archive holding a single plate.
func Package3MF(gcode []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   plateGcodeEntry,
		Method: zip.Deflate,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", plateGcodeEntry, err)
	}
	if _, err := w.Write(gcode); err != nil {
		return nil, fmt.Errorf("write %s: %w", plateGcodeEntry, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish 3mf archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Is3MF reports whether path already names a 3MF archive.
func Is3MF(path string) bool {
	return strings.EqualFold(file.Ext(path), threeMFExt)
}

// UploadName is the file name used on the printer's storage.
func UploadName(displayName string) string {
	return file.EnsureExt(displayName, threeMFExt)
}
