/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux

package hotplug

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// kernelGroup is the netlink multicast group of kernel uevents; group 2
	// carries udev's rebroadcast.
	kernelGroup = 1

	readTimeout = 500 * time.Millisecond
)

type netlinkConn struct {
	fd        int
	closeOnce sync.Once
	closeErr  error
}

// Open subscribes to kernel uevents on a NETLINK_KOBJECT_UEVENT socket.
func Open() (Conn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("failed to set uevent read timeout: %w", err)
	}

	return &netlinkConn{fd: fd}, nil
}

func (c *netlinkConn) Receive(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, buf, 0)

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case errors.Is(err, unix.ENOBUFS):
		return 0, ErrOverflow
	default:
		return 0, err
	}
}

func (c *netlinkConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = unix.Close(c.fd)
	})

	return c.closeErr
}
