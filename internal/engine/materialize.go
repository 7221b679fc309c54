package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CurrentDirName is the directory under each host's backup directory
// that holds the live mirror of the remote trees. Snapshot directories
// are created as siblings of it.
const CurrentDirName = "current"

// localRelPath converts a full remote path into the relative path used
// under the current tree. The leading slash of absolute remote paths
// is dropped so the whole remote hierarchy nests below one directory.
func localRelPath(fullRemote string) string {
	return filepath.FromSlash(strings.TrimPrefix(fullRemote, "/"))
}

// materializeFile fetches one remote file into destPath. The download
// goes to a temp file in the destination directory first; destPath is
// only replaced once the fetch completed and the content was hashed.
// Returns the byte count and the SHA-256 checksum of the fetched
// content.
func materializeFile(ctx context.Context, sess Session, remotePath, destPath string) (int64, string, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, "", fmt.Errorf("creating directory: %w", err)
	}

	// Reserve a temp name in the same directory so the final rename is atomic.
	tmpFile, err := os.CreateTemp(dir, ".sbak-*")
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("closing temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := sess.Fetch(ctx, remotePath, tmpPath)
	if err != nil {
		return 0, "", err
	}

	sum, err := hashFile(ctx, tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("hashing fetched content: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, "", fmt.Errorf("moving file into current tree: %w", err)
	}
	success = true

	return written, sum, nil
}

// hashFile computes the SHA-256 checksum of a local file, checking for
// cancellation between read chunks so large files do not block
// shutdown.
func hashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// removeMaterialized deletes the local copy of a remotely deleted file
// and prunes any directories left empty, stopping at the current tree
// root. A file that is already gone is not an error.
func removeMaterialized(currentDir, fullRemote string) error {
	local := filepath.Join(currentDir, localRelPath(fullRemote))
	if err := os.Remove(local); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for dir := filepath.Dir(local); dir != currentDir; dir = filepath.Dir(dir) {
		// Remove fails on non-empty directories, which ends the climb.
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
