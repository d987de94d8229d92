package upload

import "context"

// Uploader publishes rendered report files to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadReports uploads the given files under prefix + "/" + branch,
	// keyed by file basename, and returns the object keys written.
	UploadReports(ctx context.Context, branch string, paths []string) ([]string, error)
}
