package emulator

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRetroArch is a minimal stand-in for the real emulator's command
// port: it answers READ_CORE_RAM against an in-memory byte array and
// records WRITE_CORE_RAM/FRAMEADVANCE/PAUSE_TOGGLE commands.
type fakeRetroArch struct {
	conn *net.UDPConn
	ram  []byte

	writes []string
	done   chan struct{}
}

func newFakeRetroArch(t *testing.T, ramSize int) (*fakeRetroArch, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	f := &fakeRetroArch{conn: conn, ram: make([]byte, ramSize), done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() {
		close(f.done)
		conn.Close()
	})

	return f, conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeRetroArch) serve() {
	buf := make([]byte, 8192)
	for {
		select {
		case <-f.done:
			return
		default:
		}
		f.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		cmd := strings.TrimSpace(string(buf[:n]))
		f.handle(cmd, addr)
	}
}

func (f *fakeRetroArch) handle(cmd string, addr *net.UDPAddr) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "READ_CORE_RAM":
		addrHex, _ := strconv.ParseUint(fields[1], 16, 32)
		count, _ := strconv.Atoi(fields[2])
		var b strings.Builder
		fmt.Fprintf(&b, "READ_CORE_RAM %s", fields[1])
		for i := 0; i < count; i++ {
			fmt.Fprintf(&b, " %02x", f.ram[int(addrHex)+i])
		}
		f.conn.WriteToUDP([]byte(b.String()), addr)
	case "WRITE_CORE_RAM":
		addrHex, _ := strconv.ParseUint(fields[1], 16, 32)
		for i, hb := range fields[2:] {
			v, _ := strconv.ParseUint(hb, 16, 8)
			f.ram[int(addrHex)+i] = byte(v)
		}
		f.writes = append(f.writes, cmd)
		// fire-and-forget: no reply
	case "FRAMEADVANCE", "PAUSE_TOGGLE":
		f.writes = append(f.writes, cmd)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	fake, port := newFakeRetroArch(t, 256)
	fake.ram[0x10] = 0xAA
	fake.ram[0x11] = 0xBB

	ch, err := Dial(port, 50*time.Millisecond)
	require.NoError(t, err)
	defer ch.Close()

	data, err := ch.Read(0x10, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, data)

	require.NoError(t, ch.Write(0x10, []byte{1, 2, 3, 4, 5, 6}))
	time.Sleep(50 * time.Millisecond) // let the fire-and-forget write land

	data, err = ch.Read(0x10, 6)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data)
}

func TestWriteFragmentsIntoFourByteChunks(t *testing.T) {
	fake, port := newFakeRetroArch(t, 256)
	ch, err := Dial(port, 50*time.Millisecond)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Write(0, make([]byte, 10)))
	time.Sleep(50 * time.Millisecond)

	var writeCmds int
	for _, w := range fake.writes {
		if strings.HasPrefix(w, "WRITE_CORE_RAM") {
			writeCmds++
		}
	}
	require.Equal(t, 3, writeCmds, "10 bytes at 4 bytes/command needs 3 commands")
}

func TestReadTimeoutIsEmulatorUnresponsive(t *testing.T) {
	// No fake server listening on this port.
	ch, err := Dial(59999, 10*time.Millisecond)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Read(0, 4)
	require.Error(t, err)
}

func TestSelfTestRoundTrips(t *testing.T) {
	fake, port := newFakeRetroArch(t, 256)
	copy(fake.ram[0x20:], []byte{0x12, 0x34, 0x56, 0x06})

	ch, err := Dial(port, 50*time.Millisecond)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.SelfTest(0x20))
	require.Equal(t, []byte{0x12, 0x34, 0x56, 0x06}, fake.ram[0x20:0x24])
}

func TestSelfTestFailsOnMismatchedDefault(t *testing.T) {
	fake, port := newFakeRetroArch(t, 256)
	copy(fake.ram[0x20:], []byte{0, 0, 0, 0})

	ch, err := Dial(port, 50*time.Millisecond)
	require.NoError(t, err)
	defer ch.Close()

	require.Error(t, ch.SelfTest(0x20))
}
