// Package vcs reads version-control metadata of the working directory.
package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotRepository is returned when no git repository contains dir.
var ErrNotRepository = errors.New("not a git repository")

const (
	refPrefix      = "ref: "
	gitdirPrefix   = "gitdir: "
	shortHashChars = 7
)

// CurrentBranch returns the checked-out branch of the repository that
// contains dir. Only the last segment of the ref is returned, so
// "refs/heads/feature/login" yields "login". A detached HEAD yields the
// short commit hash.
func CurrentBranch(dir string) (string, error) {
	gitDir, err := findGitDir(dir)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}

	head := strings.TrimSpace(string(data))

	if ref, ok := strings.CutPrefix(head, refPrefix); ok {
		ref = strings.TrimSpace(ref)

		return ref[strings.LastIndex(ref, "/")+1:], nil
	}

	if len(head) < shortHashChars {
		return "", fmt.Errorf("malformed HEAD %q", head)
	}

	return head[:shortHashChars], nil
}

// findGitDir walks up from dir looking for a .git directory, or a .git
// file pointing at one as used by worktrees and submodules.
func findGitDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}

	for {
		candidate := filepath.Join(abs, ".git")

		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return candidate, nil
			}

			return readGitFile(candidate)
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}

		abs = parent
	}
}

func readGitFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), gitdirPrefix)
	if !ok {
		return "", fmt.Errorf("%w: malformed %s", ErrNotRepository, path)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}

	return target, nil
}
