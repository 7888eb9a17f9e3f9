package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
)

// SettingsRelPath is where the settings file lives inside the build directory.
const SettingsRelPath = "etc/settings.bash"

// DirectoryCreationError reports a workspace directory that could not be created.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("create directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error {
	return e.Err
}

// Environment owns the root, build and work directories of one build.
type Environment struct {
	root string
}

// New returns an environment rooted at root. Relative roots are made absolute.
func New(root string) (*Environment, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	if abs == string(filepath.Separator) {
		return nil, errors.New("workspace root must not be the filesystem root")
	}
	return &Environment{root: abs}, nil
}

func (e *Environment) RootPath() string {
	return e.root
}

func (e *Environment) BuildPath() string {
	return filepath.Join(e.root, "build")
}

func (e *Environment) WorkPath() string {
	return filepath.Join(e.root, "work")
}

func (e *Environment) SettingsPath() string {
	return filepath.Join(e.BuildPath(), SettingsRelPath)
}

// Sanitize removes the root directory and everything under it.
func (e *Environment) Sanitize() error {
	if err := os.RemoveAll(e.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace %s: %w", e.root, err)
	}
	return nil
}

// Prepare creates the build and work directories.
func (e *Environment) Prepare() error {
	for _, dir := range []string{e.BuildPath(), e.WorkPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &DirectoryCreationError{Path: dir, Err: err}
		}
	}
	return nil
}

// Wiper unmounts and removes paths with enough privilege to clear what
// stages left behind as root.
type Wiper interface {
	Unmount(ctx context.Context, mountpoint string) error
	RemoveAll(ctx context.Context, path string) error
}

// Mounts lists the mountpoints below the root, deepest first. The root itself
// is not included.
func (e *Environment) Mounts() ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(e.root))
	if err != nil {
		return nil, fmt.Errorf("list mounts under %s: %w", e.root, err)
	}
	var mounts []string
	for _, info := range infos {
		if info.Mountpoint != e.root {
			mounts = append(mounts, info.Mountpoint)
		}
	}
	sortDeepestFirst(mounts)
	return mounts, nil
}

// Wipe unmounts whatever a previous build left mounted under the root, then
// removes the root through wiper. A missing root needs no wiping.
func (e *Environment) Wipe(ctx context.Context, wiper Wiper) error {
	if _, err := os.Lstat(e.root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	mounts, err := e.Mounts()
	if err != nil {
		return err
	}
	for _, mountpoint := range mounts {
		if err := wiper.Unmount(ctx, mountpoint); err != nil {
			return fmt.Errorf("unmount %s: %w", mountpoint, err)
		}
	}
	if err := wiper.RemoveAll(ctx, e.root); err != nil {
		return fmt.Errorf("wipe workspace %s: %w", e.root, err)
	}
	return e.Sanitize()
}

// ResetWith wipes the workspace through wiper then prepares it.
func (e *Environment) ResetWith(ctx context.Context, wiper Wiper) error {
	if err := e.Wipe(ctx, wiper); err != nil {
		return err
	}
	return e.Prepare()
}

// Reset sanitizes then prepares the workspace.
func (e *Environment) Reset() error {
	if err := e.Sanitize(); err != nil {
		return err
	}
	return e.Prepare()
}

func sortDeepestFirst(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di := strings.Count(paths[i], string(filepath.Separator))
		dj := strings.Count(paths[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
}
