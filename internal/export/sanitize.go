package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	ErrOutputDirRequired  = errors.New("output_dir is required")
	ErrOutputDirTraversal = errors.New("output_dir cannot contain path traversal")
	ErrOutputDirRelative  = errors.New("output_dir must be an absolute path")
	ErrOutputDirMissing   = errors.New("output_dir does not exist")
	ErrOutputDirNotDir    = errors.New("output_dir is not a directory")
)

// SafeFileName rewrites a file name so it can be copied into the import
// folder. The extension is preserved; the stem is trimmed to maxStem runes.
func SafeFileName(name string, maxStem int) string {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	var b strings.Builder
	for _, r := range stem {
		switch {
		case unicode.IsControl(r):
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(" -_.,()", r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxStem > 0 {
		if runes := []rune(cleaned); len(runes) > maxStem {
			cleaned = string(runes[:maxStem])
		}
	}
	if cleaned == "" {
		cleaned = "input"
	}
	return cleaned + strings.ToLower(ext)
}

// CheckOutputDir validates a user-selected output directory. It must be an
// absolute, clean path to an existing directory.
func CheckOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrOutputDirRequired
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return ErrOutputDirTraversal
		}
	}
	if !filepath.IsAbs(dir) {
		return ErrOutputDirRelative
	}

	info, err := os.Stat(filepath.Clean(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrOutputDirMissing
		}
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return ErrOutputDirNotDir
	}
	return nil
}
