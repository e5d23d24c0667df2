package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename sanitizes a string for safe use in filenames
func SanitizeForFilename(input string) string {
	if input == "" {
		return "Recording"
	}

	// Illegal chars: / \ : * ? " < > |
	sanitized := illegalChars.ReplaceAllString(input, "_")

	// Replace multiple spaces/underscores with single hyphen
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
		// Remove trailing hyphen if truncation created one
		sanitized = strings.TrimRight(sanitized, "-")
	}

	if sanitized == "" {
		return "Recording"
	}
	return sanitized
}

// LibraryBasename builds the name a recording gets in the media library.
// Format: YYYY-MM-DD_HHMM_Label
func LibraryBasename(at time.Time, label string) string {
	return at.Format("2006-01-02_1504") + "_" + SanitizeForFilename(label)
}

// UniquePath returns dir/basename+ext, or the first dir/basename_N+ext that
// does not exist yet.
func UniquePath(dir, basename, ext string) (string, error) {
	path := filepath.Join(dir, basename+ext)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	for i := 2; i < 1000; i++ {
		try := filepath.Join(dir, fmt.Sprintf("%s_%d%s", basename, i, ext))
		if _, err := os.Stat(try); os.IsNotExist(err) {
			return try, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", basename+ext, dir)
}

// CopyRecording copies a finished recording into dir under newBasename,
// keeping the source extension. The copy is written to a temp file and
// renamed so a partially copied file is never visible. Returns the new path.
func CopyRecording(srcPath, dir, newBasename string) (string, error) {
	if srcPath == "" {
		return "", errors.New("empty recording path")
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create library dir: %w", err)
	}
	dst, err := UniquePath(dir, newBasename, filepath.Ext(srcPath))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "import-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return "", fmt.Errorf("copy recording: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close copy: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename copy: %w", err)
	}
	return dst, nil
}
