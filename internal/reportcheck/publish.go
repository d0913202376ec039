package reportcheck

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/s3client"
)

// Uploader is the part of s3client.Client publishing needs.
type Uploader interface {
	UploadDir(ctx context.Context, dir, dest string) (int, error)
}

var _ Uploader = (*s3client.Client)(nil)

// Publish uploads each existing directory in dirs to <runID>/<dir base
// name>. Missing directories are skipped. It returns the number of files
// uploaded.
func Publish(ctx context.Context, up Uploader, runID string, dirs ...string) (int, error) {
	log := obs.Pkg("reportcheck")
	total := 0
	for _, dir := range dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			log.Info("publish_skipped", "dir", dir, "reason", "missing")
			continue
		}
		dest := path.Join(runID, filepath.Base(filepath.Clean(dir)))
		n, err := up.UploadDir(ctx, dir, dest)
		total += n
		if err != nil {
			return total, fmt.Errorf("publish %s: %w", dir, err)
		}
		log.Info("publish_dir", "dir", dir, "dest", dest, "files", n)
	}
	return total, nil
}
