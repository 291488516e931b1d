package health

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the minimum free space under the data directory (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors is the minimum file descriptor limit.
const MinFileDescriptors = 1024

// DiskProbe checks free space at path.
func DiskProbe(path string) Probe {
	return Probe{
		Name: CheckDiskSpace,
		Check: func(context.Context) (string, error) {
			var stat syscall.Statfs_t
			if err := syscall.Statfs(path, &stat); err != nil {
				return "", fmt.Errorf("failed to check disk space: %w", err)
			}
			available := stat.Bavail * uint64(stat.Bsize)
			msg := fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(available))
			if available < MinDiskSpaceBytes {
				return msg, fmt.Errorf("insufficient disk space under %s", path)
			}
			return msg, nil
		},
	}
}

// FileDescriptorProbe checks the open file limit.
func FileDescriptorProbe() Probe {
	return Probe{
		Name: CheckFileLimit,
		Check: func(context.Context) (string, error) {
			var rLimit syscall.Rlimit
			if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
				return "", fmt.Errorf("failed to check file descriptor limit: %w", err)
			}
			msg := fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
			if rLimit.Cur < MinFileDescriptors {
				return msg, AsWarning(errors.New("file descriptor limit too low, run 'ulimit -n 10240'"))
			}
			return msg, nil
		},
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
