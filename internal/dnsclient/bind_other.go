//go:build !linux

package dnsclient

import (
	"fmt"
	"runtime"
	"syscall"
)

func bindToDeviceControl(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return fmt.Errorf("interface binding is not supported on %s", runtime.GOOS)
	}
}
