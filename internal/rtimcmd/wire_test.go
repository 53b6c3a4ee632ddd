package rtimcmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_ChecksArgCount(t *testing.T) {
	_, err := Build(OpStatus, []string{"a", "b"})
	require.Error(t, err)

	cmd, err := Build(OpStatus, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, OpStatus, cmd.Op)
}

func TestBuild_UnknownOpcode(t *testing.T) {
	_, err := Build(Opcode("BOGUS"), nil)
	require.Error(t, err)
}

func TestSerializeParseCommandRoundTrip(t *testing.T) {
	cmd, err := Build(OpAddTask, []string{"/etc/crinit/foo.crinit", "true", "@unchanged"})
	require.NoError(t, err)

	parsed, err := ParseCommand(Serialize(cmd))
	require.NoError(t, err)
	require.Equal(t, cmd, parsed)
}

func TestSerializeParseResponseRoundTrip(t *testing.T) {
	resp := Response{OK: true, Args: []string{"RUNNING", "1234"}}
	parsed, err := ParseResponse(SerializeResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, parsed)

	errResp := Response{OK: false, Reason: "Permission denied."}
	parsed, err = ParseResponse(SerializeResponse(errResp))
	require.NoError(t, err)
	require.Equal(t, errResp, parsed)
}

func TestWriteReadFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, []byte("hello")))

	got, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestReadFramed_RejectsImplausibleLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0}) // zero length
	_, err := ReadFramed(&buf)
	require.Error(t, err)
}

func TestReadFramed_RejectsMissingNUL(t *testing.T) {
	var buf bytes.Buffer
	// length prefix says 6 ("hello" plus NUL), but the last payload byte
	// is overwritten so the frame does not end in NUL.
	require.NoError(t, WriteFramed(&buf, []byte("hello")))
	raw := buf.Bytes()
	raw[len(raw)-1] = 'X'
	_, err := ReadFramed(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestCheckArgCount_Notify(t *testing.T) {
	require.NoError(t, CheckArgCount(OpNotify, []string{"task"}))
	require.NoError(t, CheckArgCount(OpNotify, []string{"task", "READY=1"}))
	require.Error(t, CheckArgCount(OpNotify, []string{}))
}

func TestIsKnown(t *testing.T) {
	require.True(t, IsKnown(OpGetVer))
	require.True(t, IsKnown(OpNotify))
	require.False(t, IsKnown(Opcode("NOPE")))
}
