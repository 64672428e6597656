// Package emulator speaks the RetroArch-style line-oriented text command
// protocol over UDP described in spec §4.1: READ_CORE_RAM / WRITE_CORE_RAM
// against localhost, plus the single-token FRAMEADVANCE and
// PAUSE_TOGGLE commands.
package emulator

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/abyssonym/parity/shared"
)

// writeChunkSize is the largest number of bytes one WRITE_CORE_RAM
// command may carry; some emulator builds silently truncate larger
// single writes (spec §4.1).
const writeChunkSize = 4

// Channel is a single UDP socket to the local emulator's command port.
type Channel struct {
	conn        *net.UDPConn
	readTimeout time.Duration
}

// Dial opens a UDP socket to localhost:port. readTimeout should be
// 1/5 of the main poll interval per spec §4.1.
func Dial(port int, readTimeout time.Duration) (*Channel, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Channel{conn: conn, readTimeout: readTimeout}, nil
}

// Close releases the underlying socket.
func (c *Channel) Close() error { return c.conn.Close() }

// Read issues READ_CORE_RAM and returns exactly n bytes, or an error:
// *shared.EmulatorUnresponsive on timeout, *shared.EmulatorReadError if
// the response's byte count doesn't match n or is malformed.
func (c *Channel) Read(addr uint32, n int) ([]byte, error) {
	cmd := fmt.Sprintf("READ_CORE_RAM %06x %d", addr, n)
	if err := c.send(cmd); err != nil {
		return nil, err
	}

	resp, err := c.recv()
	if err != nil {
		return nil, &shared.EmulatorUnresponsive{Command: "READ_CORE_RAM", Addr: addr}
	}

	fields := strings.Fields(resp)
	if len(fields) < 2 || fields[0] != "READ_CORE_RAM" {
		return nil, &shared.EmulatorReadError{Addr: addr, Want: n, Got: 0}
	}

	hexBytes := fields[2:]
	if len(hexBytes) != n {
		return nil, &shared.EmulatorReadError{Addr: addr, Want: n, Got: len(hexBytes)}
	}

	data := make([]byte, n)
	for i, hb := range hexBytes {
		v, err := strconv.ParseUint(hb, 16, 8)
		if err != nil {
			return nil, &shared.EmulatorReadError{Addr: addr, Want: n, Got: i}
		}
		data[i] = byte(v)
	}
	return data, nil
}

// Write issues WRITE_CORE_RAM, fragmenting data into chunks of at most
// writeChunkSize bytes and advancing the address between chunks (spec
// §4.1). Fire-and-forget: no response is awaited.
func (c *Channel) Write(addr uint32, data []byte) error {
	for off := 0; off < len(data); off += writeChunkSize {
		end := off + writeChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		var b strings.Builder
		fmt.Fprintf(&b, "WRITE_CORE_RAM %06x", addr+uint32(off))
		for _, v := range chunk {
			fmt.Fprintf(&b, " %02X", v)
		}
		if err := c.send(b.String()); err != nil {
			return err
		}
	}
	return nil
}

// FrameAdvance sends FRAMEADVANCE, which pauses the emulator after one
// frame (used as the write committer's pause request, spec §4.5).
func (c *Channel) FrameAdvance() error { return c.send("FRAMEADVANCE") }

// PauseToggle sends PAUSE_TOGGLE, used both to begin and end the
// committer's pause bracket.
func (c *Channel) PauseToggle() error { return c.send("PAUSE_TOGGLE") }

func (c *Channel) send(cmd string) error {
	_, err := c.conn.Write([]byte(cmd))
	return err
}

func (c *Channel) recv() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	buf := make([]byte, 8192)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// canonicalButtonMap and perturbedButtonMap are the button-map
// self-test values from spec §6.
var (
	canonicalButtonMap = [4]byte{0x12, 0x34, 0x56, 0x06}
	perturbedButtonMap = [4]byte{0x12, 0x34, 0x56, 0xF6}
)

// SelfTest performs the startup round-trip check described in spec §6:
// read the button-map region, verify it matches the canonical default,
// write a perturbed copy under a pause bracket, read it back, then
// restore the original. It returns a descriptive error if any step
// fails to round-trip.
func (c *Channel) SelfTest(buttonMapAddress uint32) error {
	original, err := c.Read(buttonMapAddress, 4)
	if err != nil {
		return fmt.Errorf("self-test: reading button map: %w", err)
	}
	var orig4 [4]byte
	copy(orig4[:], original)
	if orig4 != canonicalButtonMap {
		return fmt.Errorf("self-test: button map %x does not match canonical default %x", orig4, canonicalButtonMap)
	}

	if err := c.FrameAdvance(); err != nil {
		return fmt.Errorf("self-test: pausing: %w", err)
	}
	if err := c.Write(buttonMapAddress, perturbedButtonMap[:]); err != nil {
		c.PauseToggle()
		return fmt.Errorf("self-test: writing perturbed map: %w", err)
	}

	readBack, err := c.Read(buttonMapAddress, 4)
	if err != nil {
		c.PauseToggle()
		return fmt.Errorf("self-test: reading back perturbed map: %w", err)
	}
	var got4 [4]byte
	copy(got4[:], readBack)
	if got4 != perturbedButtonMap {
		c.PauseToggle()
		return fmt.Errorf("self-test: perturbed map did not round-trip: got %x want %x", got4, perturbedButtonMap)
	}

	if err := c.Write(buttonMapAddress, canonicalButtonMap[:]); err != nil {
		c.PauseToggle()
		return fmt.Errorf("self-test: restoring canonical map: %w", err)
	}
	return c.PauseToggle()
}
