package rtimcmd

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Command is one request: an opcode followed by 0..N arguments.
type Command struct {
	Op   Opcode
	Args []string
}

// Response is one reply. OK mirrors the wire's RES_OK/RES_ERR first
// argument; on failure Reason holds the human-readable message and
// Args is empty.
type Response struct {
	OK     bool
	Reason string
	Args   []string
}

// Build validates op/args against the opcode map and returns a
// Command, implementing the §4.3 "build" half of
// "buildRtimCmd -> serialize -> parse".
func Build(op Opcode, args []string) (Command, error) {
	if !IsKnown(op) {
		return Command{}, fmt.Errorf("rtimcmd: unknown opcode %q", op)
	}
	if err := CheckArgCount(op, args); err != nil {
		return Command{}, err
	}
	return Command{Op: op, Args: append([]string(nil), args...)}, nil
}

// Serialize encodes a Command as "OPCODE\narg1\narg2...".
func Serialize(c Command) []byte {
	parts := append([]string{string(c.Op)}, c.Args...)
	return []byte(strings.Join(parts, "\n"))
}

// ParseCommand decodes a serialized Command payload.
func ParseCommand(payload []byte) (Command, error) {
	s := string(payload)
	if s == "" {
		return Command{}, fmt.Errorf("rtimcmd: empty command")
	}
	parts := strings.Split(s, "\n")
	return Command{Op: Opcode(parts[0]), Args: parts[1:]}, nil
}

// SerializeResponse encodes a Response as "RES_OK\n..." or
// "RES_ERR\nreason".
func SerializeResponse(r Response) []byte {
	if r.OK {
		parts := append([]string{ResOK}, r.Args...)
		return []byte(strings.Join(parts, "\n"))
	}
	return []byte(strings.Join([]string{ResErr, r.Reason}, "\n"))
}

// ParseResponse decodes a serialized Response payload.
func ParseResponse(payload []byte) (Response, error) {
	s := string(payload)
	parts := strings.Split(s, "\n")
	if len(parts) == 0 {
		return Response{}, fmt.Errorf("rtimcmd: empty response")
	}
	switch parts[0] {
	case ResOK:
		return Response{OK: true, Args: parts[1:]}, nil
	case ResErr:
		reason := ""
		if len(parts) > 1 {
			reason = parts[1]
		}
		return Response{OK: false, Reason: reason}, nil
	default:
		return Response{}, fmt.Errorf("rtimcmd: malformed response header %q", parts[0])
	}
}

// RTR is the single framed greeting the server sends immediately after
// accepting a connection (spec §4.3 "Protocol framing").
const RTR = "RTR"

// WriteFramed writes one message as two stream-socket writes: a
// binary size_t-equivalent (uint64) length prefix that includes the
// terminating NUL byte, followed by the NUL-terminated payload (spec
// §4.3).
func WriteFramed(w io.Writer, payload []byte) error {
	buf := make([]byte, len(payload)+1)
	copy(buf, payload)
	// buf[len(payload)] is already the zero byte (NUL terminator).

	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rtimcmd: write length prefix: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("rtimcmd: write payload: %w", err)
	}
	return nil
}

// ReadFramed reads one message written by WriteFramed. It returns the
// payload with the NUL terminator stripped. A length prefix that
// disagrees with the payload actually read is an error and no command
// is ever derived from it (spec §8 "Boundary behaviors").
func ReadFramed(r io.Reader) ([]byte, error) {
	var lenPrefix [8]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("rtimcmd: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint64(lenPrefix[:])
	if n == 0 || n > 1<<20 {
		return nil, fmt.Errorf("rtimcmd: implausible frame length %d", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rtimcmd: read payload (expected %d bytes): %w", n, err)
	}
	if buf[len(buf)-1] != 0 {
		return nil, fmt.Errorf("rtimcmd: frame missing NUL terminator")
	}
	return buf[:len(buf)-1], nil
}
