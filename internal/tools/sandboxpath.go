package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// procInfoWhitelist lists informational /proc paths readable regardless of
// sandbox root (spec §4.4: "a small whitelist of informational /proc paths").
var procInfoWhitelist = []string{
	"/proc/cpuinfo",
	"/proc/meminfo",
	"/proc/version",
	"/proc/loadavg",
	"/proc/uptime",
	"/proc/stat",
	"/proc/self/status",
}

// procSensitiveDeny matches /proc/<pid>/* paths that must never be readable
// even under the whitelist (spec §4.4: "explicit blocklist ... matched both
// literal and regex").
var procSensitiveDeny = []string{
	"/environ", "/mem", "/maps", "/cmdline", "/fd/", "/root", "/cwd", "/exe",
}

// resolveSandboxPath resolves path against workspace and validates it stays
// inside the sandbox boundary, following the teacher's symlink-resolved
// realpath bounds check (internal/tools/filesystem.go resolvePath,
// resolveThroughExistingAncestors, hasMutableSymlinkParent, checkHardlink).
func resolveSandboxPath(path, workspace string) (string, error) {
	if isProcPath(path) {
		return resolveProcPath(path)
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
				target, readErr := os.Readlink(absResolved)
				if readErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve symlink")
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(absResolved), target)
				}
				target = filepath.Clean(target)

				resolved, resolveErr := resolveThroughExistingAncestors(target)
				if resolveErr != nil {
					slog.Warn("sandbox.broken_symlink_resolve_failed", "path", path, "target", target)
					return "", fmt.Errorf("access denied: cannot resolve broken symlink target")
				}
				if !isPathInside(resolved, wsReal) {
					slog.Warn("sandbox.broken_symlink_escape", "path", path, "target", resolved, "workspace", wsReal)
					return "", fmt.Errorf("access denied: broken symlink target outside workspace")
				}
				real = resolved
			} else {
				parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
				if parentErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve path")
				}
				real = filepath.Join(parentReal, filepath.Base(absResolved))
			}
		} else {
			slog.Warn("sandbox.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("sandbox.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	if hasMutableSymlinkParent(real) {
		slog.Warn("sandbox.mutable_symlink_parent", "path", path, "resolved", real)
		return "", fmt.Errorf("access denied: path contains mutable symlink component")
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

func isProcPath(path string) bool {
	return strings.HasPrefix(filepath.Clean(path), "/proc/")
}

func resolveProcPath(path string) (string, error) {
	clean := filepath.Clean(path)
	for _, denied := range procSensitiveDeny {
		if strings.Contains(clean, denied) {
			return "", fmt.Errorf("access denied: %s is a restricted /proc path", clean)
		}
	}
	for _, allowed := range procInfoWhitelist {
		if clean == allowed {
			return clean, nil
		}
	}
	// /proc/self/* and /proc/<pid>/* beyond the sensitive set is still denied
	// by default: only the explicit whitelist above is readable.
	return "", fmt.Errorf("access denied: %s is not in the /proc whitelist", clean)
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("sandbox.hardlink_rejected", "path", path, "nlink", stat.Nlink)
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}

// trashPath returns the soft-delete destination for path under
// work/.trash/<basename>.<unixms> (spec §6 persistent state layout).
func trashPath(workspace, original string, nowMillis int64) string {
	base := filepath.Base(original)
	return filepath.Join(workspace, "work", ".trash", fmt.Sprintf("%s.%d", base, nowMillis))
}
