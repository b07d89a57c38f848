//go:build windows

package fsys

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

var enableBackupPrivilegeOnce sync.Once

// enableBackupPrivilege grants the current process SeBackupPrivilege and
// SeRestorePrivilege when available, so mirror sessions running as an
// administrator can read and write files that would otherwise be denied by
// per-file ACLs. Failure is logged, not fatal: unprivileged sessions still
// work for files the running user already owns.
func enableBackupPrivilege() {
	enableBackupPrivilegeOnce.Do(func() {
		if err := winio.EnableProcessPrivileges([]string{
			winio.SeBackupPrivilege,
			winio.SeRestorePrivilege,
		}); err != nil {
			slog.Debug("enable backup privilege failed", "error", err)
		}
	})
}

// applyMetadata applies mode (best-effort, mapped to the owner-write bit),
// timestamps, and the read-only attribute on windows, per spec.md §4.6.
func applyMetadata(abs string, entry Entry, opts MetadataOpts) error {
	enableBackupPrivilege()
	if opts.ReadOnly {
		if err := setReadOnly(abs, entry.ReadOnly); err != nil {
			return fmt.Errorf("set read-only %s: %w", abs, err)
		}
	}
	if opts.Times {
		if err := os.Chtimes(abs, entry.AccTime, entry.ModTime); err != nil {
			return fmt.Errorf("chtimes %s: %w", abs, err)
		}
	}
	return nil
}

// clearReadOnly removes the read-only attribute before a rename or delete,
// mirroring spec.md §4.10's "clear read-only before unlink" step.
func clearReadOnly(abs string) error {
	return setReadOnly(abs, false)
}

func setReadOnly(abs string, readOnly bool) error {
	p, err := windows.UTF16PtrFromString(abs)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if readOnly {
		attrs |= windows.FILE_ATTRIBUTE_READONLY
	} else {
		attrs &^= windows.FILE_ATTRIBUTE_READONLY
	}
	return windows.SetFileAttributes(p, attrs)
}
