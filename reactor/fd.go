//go:build linux

package reactor

import "golang.org/x/sys/unix"

// closeFd is the single choke point for releasing a raw file
// descriptor, mirroring the RAII fd wrappers the original source uses
// throughout (Socket, Channel, TimerQueue all close their own fd on
// destruction — spec §5, "Resource lifecycles").
func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
