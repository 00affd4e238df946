package fsio

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mkdir700/pi-team/internal/model"
)

// SafeJoin resolves rel against root and guarantees the result cannot leave
// it. Absolute inputs and ".." segments are refused lexically; every
// existing segment that is a symlink must resolve inside the real path of
// root. The returned path is the lexical join against the resolved root.
func SafeJoin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", model.Internal(model.CodePathTraversal, "absolute path %q refused", rel)
	}
	if hasDotDotSegment(rel) {
		return "", model.Internal(model.CodePathTraversal, "path %q reaches outside the workspace", rel)
	}
	cleaned := path.Clean(filepath.ToSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", model.Internal(model.CodePathTraversal, "path %q reaches outside the workspace", rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	joined := realRoot
	if cleaned != "." {
		for _, seg := range strings.Split(cleaned, "/") {
			joined = filepath.Join(joined, seg)
			fi, err := os.Lstat(joined)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return "", fmt.Errorf("failed to stat %s: %w", joined, err)
			}
			if fi.Mode()&os.ModeSymlink == 0 {
				continue
			}
			target, err := filepath.EvalSymlinks(joined)
			if err != nil {
				return "", model.Internal(model.CodeSymlinkEscape, "failed to resolve symlink %s: %v", joined, err)
			}
			if !within(realRoot, target) {
				return "", model.Internal(model.CodeSymlinkEscape, "symlink %s points outside the workspace", joined)
			}
		}
	}
	return joined, nil
}

func hasDotDotSegment(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func within(root, target string) bool {
	return target == root || strings.HasPrefix(target, root+string(os.PathSeparator))
}
