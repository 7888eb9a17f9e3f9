package stages

import (
	"context"
	"fmt"
)

// PrivilegedWiper clears a workspace through an Executor, so files and mounts
// that stages created as root can be removed by an unprivileged build.
type PrivilegedWiper struct {
	Executor Executor
}

// Unmount detaches mountpoint.
func (w *PrivilegedWiper) Unmount(ctx context.Context, mountpoint string) error {
	return w.run(ctx, Invocation{Command: "umount", Args: []string{mountpoint}})
}

// RemoveAll deletes path without crossing into other filesystems, so a mount
// that survived Unmount is left alone.
func (w *PrivilegedWiper) RemoveAll(ctx context.Context, path string) error {
	return w.run(ctx, Invocation{Command: "rm", Args: []string{"-rf", "--one-file-system", path}})
}

func (w *PrivilegedWiper) run(ctx context.Context, invocation Invocation) error {
	code, err := w.Executor.Execute(ctx, invocation)
	if err != nil {
		return fmt.Errorf("%s: %w", invocation, err)
	}
	if code != 0 {
		return fmt.Errorf("%s exited with code %d", invocation, code)
	}
	return nil
}
