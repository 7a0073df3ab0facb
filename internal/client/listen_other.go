//go:build !unix

package client

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
