//go:build linux
// +build linux

package lib

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// Tun is a Linux TUN device carrying raw IPv4 datagrams without packet information.
type Tun struct {
	file *os.File
	name string
}

// OpenTun creates or attaches to the TUN interface called name. An empty
// name lets the kernel pick one. Bringing the interface up and assigning its
// address is left to the caller.
func OpenTun(name string) (*Tun, error) {
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", tunDevice)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "interface name %q", name)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "TUNSETIFF")
	}
	// non-blocking so that reads go through the runtime poller and Close unblocks them
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set nonblock")
	}
	return &Tun{
		file: os.NewFile(uintptr(fd), tunDevice),
		name: ifr.Name(),
	}, nil
}

func (t *Tun) Name() string { return t.name }

func (t *Tun) Read(p []byte) (int, error) { return t.file.Read(p) }

func (t *Tun) Write(p []byte) (int, error) { return t.file.Write(p) }

func (t *Tun) Close() error { return t.file.Close() }
