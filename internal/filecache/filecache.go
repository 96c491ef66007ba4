package filecache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Cache is a private on-disk area for files downloaded from Telegram.
// Pending edit images live under the "pending" subdirectory and are named
// with a fresh uuid per upload.
type Cache struct {
	dir string
}

func Open(dir string) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if err := EnsureSecureDir(dir); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Cache{dir: abs}, nil
}

func (c *Cache) Dir() string { return c.dir }

// PendingPath reserves a destination path for an uploaded image awaiting an
// edit instruction. The file itself is written by the caller.
func (c *Cache) PendingPath(ext string) (string, error) {
	sub := filepath.Join(c.dir, "pending")
	if err := ensureSecureChildDir(c.dir, sub); err != nil {
		return "", err
	}
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(sub, "img_"+uuid.NewString()+ext), nil
}

// Remove deletes a cached file. Missing files are fine; paths outside the
// cache directory are refused.
func (c *Cache) Remove(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(c.dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path outside cache dir: %s", path)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Cache) Sweep(maxAge time.Duration, maxFiles int, maxTotalBytes int64) error {
	return SweepDir(c.dir, maxAge, maxFiles, maxTotalBytes)
}

func EnsureSecureDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	dir = abs

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	fi, err := os.Lstat(dir)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing symlink path: %s", dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	perm := fi.Mode().Perm()
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return fmt.Errorf("unsupported stat for: %s", dir)
	}
	curUID := uint32(os.Getuid())
	if st.Uid != curUID {
		return fmt.Errorf("cache dir not owned by current user (uid=%d, owner=%d): %s", curUID, st.Uid, dir)
	}
	if perm != 0o700 {
		// Try to fix perms if we own it.
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("cache dir has insecure perms (%#o) and chmod failed: %w", perm, err)
		}
		fi2, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if fi2.Mode().Perm() != 0o700 {
			return fmt.Errorf("cache dir has insecure perms (%#o): %s", fi2.Mode().Perm(), dir)
		}
	}
	return nil
}

func ensureSecureChildDir(parentDir, childDir string) error {
	parentDir = strings.TrimSpace(parentDir)
	childDir = strings.TrimSpace(childDir)
	if parentDir == "" || childDir == "" {
		return fmt.Errorf("missing dir")
	}
	rel, err := filepath.Rel(parentDir, childDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("child dir escapes parent: %s", childDir)
	}
	return EnsureSecureDir(childDir)
}

type sweepEntry struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// SweepDir evicts cached files by age first, then oldest-first until the
// file-count and total-size budgets hold. Empty subdirectories are removed
// afterwards.
func SweepDir(dir string, maxAge time.Duration, maxFiles int, maxTotalBytes int64) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("missing dir")
	}
	if maxAge <= 0 && maxFiles <= 0 && maxTotalBytes <= 0 {
		return nil
	}
	now := time.Now()

	var kept []sweepEntry
	total := int64(0)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Never follow symlinks.
		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			_ = os.Remove(path)
			return nil
		}
		kept = append(kept, sweepEntry{
			Path:    path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		total += info.Size()
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return walkErr
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].ModTime.Before(kept[j].ModTime) })
	needPrune := func() bool {
		if maxFiles > 0 && len(kept) > maxFiles {
			return true
		}
		if maxTotalBytes > 0 && total > maxTotalBytes {
			return true
		}
		return false
	}
	for needPrune() && len(kept) > 0 {
		old := kept[0]
		kept = kept[1:]
		total -= old.Size
		_ = os.Remove(old.Path)
	}

	// Best-effort remove empty dirs (bottom-up).
	var dirs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		if filepath.Clean(d) == filepath.Clean(dir) {
			continue
		}
		_ = os.Remove(d)
	}
	return nil
}
