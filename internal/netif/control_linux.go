//go:build linux

package netif

import (
	"sync"
	"unsafe"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"golang.org/x/sys/unix"
)

const (
	btprotoBNEP = 4

	// _IOW('B', 200, int) and _IOW('B', 201, int).
	ioctlConnAdd = 0x400442c8
	ioctlConnDel = 0x400442c9
)

// connAddReq mirrors struct bnep_connadd_req.
type connAddReq struct {
	sock   int32
	flags  uint32
	role   uint16
	device [16]byte
}

// connDelReq mirrors struct bnep_conndel_req.
type connDelReq struct {
	flags uint32
	dst   [6]byte
}

// KernelControl talks to the kernel tunnel driver through its control socket.
type KernelControl struct {
	once sync.Once
	fd   int
	err  error
}

// NewKernelControl returns a control which opens its socket on first use.
func NewKernelControl() *KernelControl {
	return &KernelControl{fd: -1}
}

func (k *KernelControl) socket() (int, error) {
	k.once.Do(func() {
		k.fd, k.err = unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, btprotoBNEP)
	})

	return k.fd, k.err
}

// ConnAdd hands the session socket to the kernel.
func (k *KernelControl) ConnAdd(fd int, role uint16, format string) (string, error) {
	ctl, err := k.socket()
	if err != nil {
		return "", err
	}

	req := connAddReq{sock: int32(fd), role: role}
	copy(req.device[:len(req.device)-1], format)

	if err := ioctl(ctl, ioctlConnAdd, unsafe.Pointer(&req)); err != nil {
		return "", err
	}

	return unix.ByteSliceToString(req.device[:]), nil
}

// ConnDel removes the connection with peer.
func (k *KernelControl) ConnDel(peer bluetooth.MacAddress) error {
	ctl, err := k.socket()
	if err != nil {
		return err
	}

	req := connDelReq{}
	for i := range peer {
		req.dst[i] = peer[len(peer)-1-i]
	}

	return ioctl(ctl, ioctlConnDel, unsafe.Pointer(&req))
}

// Close closes the control socket.
func (k *KernelControl) Close() error {
	if k.fd < 0 {
		return nil
	}

	return unix.Close(k.fd)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}
