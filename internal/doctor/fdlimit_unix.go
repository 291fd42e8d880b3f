//go:build unix

package doctor

import "golang.org/x/sys/unix"

func softFileLimit() (uint64, error) {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return uint64(rLimit.Cur), nil
}
