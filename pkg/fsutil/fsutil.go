// Package fsutil writes generated files with an optional owner.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner is the UID/GID applied to written files.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID" or "UID" (GID defaults to UID). An empty
// string yields nil.
func ParseOwner(s string) (*Owner, error) {
	if s == "" {
		return nil, nil
	}

	uidStr, gidStr, hasGID := strings.Cut(s, ":")

	uid, err := strconv.Atoi(uidStr)
	if err != nil || uid < 0 {
		return nil, fmt.Errorf("invalid owner %q: bad UID %q", s, uidStr)
	}

	if !hasGID {
		return &Owner{UID: uid, GID: uid}, nil
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil || gid < 0 {
		return nil, fmt.Errorf("invalid owner %q: bad GID %q", s, gidStr)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// String formats the owner as "UID:GID".
func (o *Owner) String() string {
	return fmt.Sprintf("%d:%d", o.UID, o.GID)
}

// WriteFile writes data to path through a temporary file in the same
// directory and renames it into place. Missing parent
// directories are created. Ownership changes are best effort.
func WriteFile(path string, data []byte, perm os.FileMode, owner *Owner) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()

		return fmt.Errorf("writing %s: %w", tmpName, err)
	}

	if err := tmp.Chmod(perm); err != nil {
		cleanup()

		return fmt.Errorf("setting mode of %s: %w", tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing %s: %w", tmpName, err)
	}

	if owner != nil {
		_ = os.Chown(tmpName, owner.UID, owner.GID)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}
