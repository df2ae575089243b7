//go:build linux

package rawcan

import (
	"net"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

// Linux SocketCAN address family and CAN_RAW protocol number. Neither is
// exported by golang.org/x/sys/unix (they live in linux/can.h, not the
// generic socket headers x/sys/unix's constants are generated from), so
// they are named here the same way notnil-canbus's socketcan_linux.go
// names them.
const (
	afCAN   = 29
	canRAW  = 1
	canMTU  = 16 // sizeof(struct can_frame)
	canEFF  = 0x80000000
)

// sockaddrCAN mirrors struct sockaddr_can's layout closely enough for
// bind(2): family, then the interface index, then a union this proxy never
// populates (no J1939/ISOTP kernel socket options are used).
type sockaddrCAN struct {
	Family  uint16
	pad     uint16
	Ifindex int32
	addr    [8]byte
}

// canFrame mirrors struct can_frame: a 4-byte ID (top bit set for extended
// IDs), a length byte, 3 padding bytes, and 8 data bytes.
type canFrame struct {
	ID   uint32
	DLC  uint8
	_    [3]byte
	Data [8]byte
}

// SocketCAN implements isochannel.RawChannel over a Linux SocketCAN raw
// socket, opened in non-blocking mode so ReadMsgs/WriteMsgs can honour
// their timeout (spec.md §6.1). PID filtering is done in software over
// every frame the kernel delivers, the same way LoopbackChannel filters —
// kernel-level CAN_RAW_FILTER socket options are physical-layer tuning,
// out of scope per spec.md §1's non-goals.
type SocketCAN struct {
	fd   int
	file *os.File

	mu      sync.Mutex
	dead    bool
	filters []passFilter
	nextID  passthru.FilterID
}

// DialSocketCAN opens a raw CAN socket bound to the given interface (e.g.
// "can0").
func DialSocketCAN(iface string) (*SocketCAN, error) {
	fd, err := unix.Socket(afCAN, unix.SOCK_RAW, canRAW)
	if err != nil {
		return nil, err
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := sockaddrCAN{Family: afCAN, Ifindex: int32(netIf.Index)}
	if _, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa)); errno != 0 {
		unix.Close(fd)
		return nil, errno
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &SocketCAN{fd: fd, file: os.NewFile(uintptr(fd), "socketcan:"+iface)}, nil
}

// ReadMsgs polls the socket for up to timeout, translating each readable
// SocketCAN frame into a passthru.Msg (PID prefix + payload) and applying
// this channel's installed pass filters before it counts toward out.
func (s *SocketCAN) ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	deadline := time.Now().Add(timeout)
	n := 0
	for n < len(out) {
		remain := time.Until(deadline)
		if remain <= 0 {
			return n, nil
		}
		frame, ok, err := s.readOneFrame(remain)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		if !s.accepts(frame.ID) {
			continue
		}
		out[n] = toMsg(frame)
		n++
	}
	return n, nil
}

func (s *SocketCAN) readOneFrame(timeout time.Duration) (canFrame, bool, error) {
	var buf [canMTU]byte
	deadline := time.Now().Add(timeout)
	for {
		nread, err := unix.Read(s.fd, buf[:])
		if err == nil && nread == canMTU {
			return decodeFrame(buf), true, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if time.Now().After(deadline) {
				return canFrame{}, false, nil
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return canFrame{}, false, err
		}
		return canFrame{}, false, nil
	}
}

func decodeFrame(buf [canMTU]byte) canFrame {
	var f canFrame
	f.ID = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	f.DLC = buf[4]
	copy(f.Data[:], buf[8:16])
	return f
}

func encodeFrame(f canFrame) [canMTU]byte {
	var buf [canMTU]byte
	buf[0] = byte(f.ID)
	buf[1] = byte(f.ID >> 8)
	buf[2] = byte(f.ID >> 16)
	buf[3] = byte(f.ID >> 24)
	buf[4] = f.DLC
	copy(buf[8:16], f.Data[:])
	return buf
}

func toMsg(f canFrame) passthru.Msg {
	var m passthru.Msg
	m.SetPID(f.ID &^ canEFF)
	n := int(f.DLC)
	if n > 8 {
		n = 8
	}
	copy(m.Data[4:4+n], f.Data[:n])
	m.DataSize = 4 + n
	return m
}

func fromMsg(m *passthru.Msg) canFrame {
	var f canFrame
	pid := pidOf(m)
	f.ID = pid | canEFF
	n := m.DataSize - 4
	if n > 8 {
		n = 8
	}
	if n > 0 {
		copy(f.Data[:n], m.Data[4:4+n])
	}
	f.DLC = uint8(n)
	return f
}

// WriteMsgs writes each frame on the non-blocking socket; when the
// kernel's TX queue is full (EAGAIN) it retries every millisecond until the
// batch deadline, then reports ErrTimeout, the same polling shape ReadMsgs
// uses.
func (s *SocketCAN) WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	count := 0
	for i := range in {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		if err := s.writeOneFrame(fromMsg(&in[i]), remain); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *SocketCAN) writeOneFrame(f canFrame, timeout time.Duration) error {
	buf := encodeFrame(f)
	deadline := time.Now().Add(timeout)
	for {
		_, err := unix.Write(s.fd, buf[:])
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if time.Now().After(deadline) {
				return passthru.ErrTimeout
			}
			time.Sleep(time.Millisecond)
			continue
		}
		return err
	}
}

func (s *SocketCAN) accepts(id uint32) bool {
	pid := id &^ canEFF
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.filters {
		if pid&f.maskPID == f.patternPID {
			return true
		}
	}
	return false
}

// StartMsgFilter records a software pass filter (see type doc).
func (s *SocketCAN) StartMsgFilter(filterType passthru.FilterType, mask, pattern *passthru.Msg) (passthru.FilterID, error) {
	if filterType != passthru.PassFilter {
		return 0, passthru.ErrUnsupportedOperation
	}
	maskPID, err := mask.PID()
	if err != nil {
		return 0, err
	}
	patternPID, err := pattern.PID()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.filters = append(s.filters, passFilter{id: s.nextID, maskPID: maskPID, patternPID: patternPID})
	return s.nextID, nil
}

// StopMsgFilter removes a previously installed filter.
func (s *SocketCAN) StopMsgFilter(id passthru.FilterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.filters {
		if f.id == id {
			s.filters = append(s.filters[:i:i], s.filters[i+1:]...)
			return nil
		}
	}
	return passthru.ErrInvalidFilterID
}

// Ioctl has nothing of its own to service; SocketCAN exposes no vendor
// ioctls beyond what this module already models.
func (s *SocketCAN) Ioctl(passthru.IoctlID, any, any) error {
	return passthru.ErrUnsupportedOperation
}

// Close releases the underlying socket.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil
	}
	s.dead = true
	s.mu.Unlock()
	return s.file.Close()
}
