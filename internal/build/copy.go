package build

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// copySourceTree mirrors srcDir into dstDir. Regular files keep their mode and
// mtime, directories their mode and mtime, and symlinks are recreated as
// symlinks without following them.
func copySourceTree(srcDir, dstDir string) error {
	srcAbs, err := filepath.Abs(srcDir)
	if err != nil {
		return &SourceCopyError{Source: srcDir, Err: err}
	}
	info, err := os.Stat(srcAbs)
	if err != nil {
		return &SourceCopyError{Source: srcAbs, Path: srcAbs, Err: err}
	}
	if !info.IsDir() {
		return &SourceCopyError{Source: srcAbs, Path: srcAbs, Err: errors.New("not a directory")}
	}

	type dirTimes struct {
		path string
		info fs.FileInfo
	}
	var dirs []dirTimes

	err = filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &SourceCopyError{Source: srcAbs, Path: path, Err: walkErr}
		}

		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return &SourceCopyError{Source: srcAbs, Path: path, Err: err}
		}
		target := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return &SourceCopyError{Source: srcAbs, Path: path, Err: err}
		}
		mode := info.Mode()

		switch {
		case mode&fs.ModeSymlink != 0:
			err = copySymlink(path, target)
		case d.IsDir():
			err = os.MkdirAll(target, 0o755)
			if err == nil {
				err = os.Chmod(target, mode.Perm())
			}
			dirs = append(dirs, dirTimes{path: target, info: info})
		case mode.IsRegular():
			err = copyRegularFile(path, target, info)
		default:
			err = fmt.Errorf("unsupported file type %s", mode.Type())
		}
		if err != nil {
			return &SourceCopyError{Source: srcAbs, Path: path, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// children touch their parent's mtime, so directories are stamped last,
	// deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		mtime := dirs[i].info.ModTime()
		if err := os.Chtimes(dirs[i].path, mtime, mtime); err != nil {
			return &SourceCopyError{Source: srcAbs, Path: dirs[i].path, Err: err}
		}
	}
	return nil
}

func copyRegularFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// OpenFile applies the umask
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Symlink(link, dst); err != nil {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	mtime := unix.NsecToTimeval(info.ModTime().UnixNano())
	return unix.Lutimes(dst, []unix.Timeval{mtime, mtime})
}
