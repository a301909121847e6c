package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourceInfo describes a validated capture file.
type SourceInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	Size int64

	// Container is the lower-cased extension without the dot, e.g. "ogg" or "ivf"
	Container string
}

// SourceSpec names a file and the containers accepted for it.
type SourceSpec struct {
	Path    string
	Allowed []string
}

// ValidateSources checks every non-empty path and returns all failures at once.
func ValidateSources(specs ...SourceSpec) ([]SourceInfo, error) {
	var infos []SourceInfo
	var problems []string

	for _, spec := range specs {
		if spec.Path == "" {
			continue
		}
		info, err := ValidateSource(spec.Path, spec.Allowed...)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		infos = append(infos, info)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("source validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return infos, nil
}

// ValidateSource checks that path is an existing, non-empty, readable file with one of
// the allowed extensions.
func ValidateSource(path string, allowed ...string) (SourceInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return SourceInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return SourceInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return SourceInfo{}, fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return SourceInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	container := strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), ".")
	if len(allowed) > 0 && !contains(allowed, container) {
		return SourceInfo{}, fmt.Errorf("%s: unsupported container %q (want %s)", path, container, strings.Join(allowed, ", "))
	}

	return SourceInfo{
		Path:      absPath,
		Name:      filepath.Base(absPath),
		Size:      stat.Size(),
		Container: container,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
