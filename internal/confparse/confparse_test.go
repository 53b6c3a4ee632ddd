package confparse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crinit-go/crinit/internal/task"
)

func TestTokenize(t *testing.T) {
	toks, err := Tokenize(`foo "bar baz" qux`)
	require.NoError(t, err)
	require.Equal(t, []string{"foo", "bar baz", "qux"}, toks)
}

func TestTokenize_UnterminatedQuote(t *testing.T) {
	_, err := Tokenize(`foo "bar`)
	require.Error(t, err)
}

func TestParseArgv(t *testing.T) {
	argv, err := ParseArgv(`/bin/echo "hello world"`)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/echo", "hello world"}, argv)

	_, err = ParseArgv("   ")
	require.Error(t, err)
}

func TestParseDepends(t *testing.T) {
	deps, err := ParseDepends("foo:wait bar:spawn")
	require.NoError(t, err)
	require.Equal(t, []task.Dependency{
		{Name: "foo", Event: task.EventWait},
		{Name: "bar", Event: task.EventSpawn},
	}, deps)
}

func TestParseDepends_Malformed(t *testing.T) {
	_, err := ParseDepends("foo")
	require.Error(t, err)
	_, err = ParseDepends(":wait")
	require.Error(t, err)
}

func TestParseProvides(t *testing.T) {
	provs, err := ParseProvides("network:wait network-ready:spawn-notify")
	require.NoError(t, err)
	require.Equal(t, []task.Provides{
		{Feature: "network", State: task.ProvideWait},
		{Feature: "network-ready", State: task.ProvideSpawn, Notify: true},
	}, provs)
}

func TestParseProvides_UnknownState(t *testing.T) {
	_, err := ParseProvides("foo:bogus")
	require.Error(t, err)
}

func TestParseIORedirect(t *testing.T) {
	r, err := ParseIORedirect("STDOUT /var/log/foo.log APPEND 0600")
	require.NoError(t, err)
	require.Equal(t, task.RedirStdout, r.From)
	require.Equal(t, "/var/log/foo.log", r.To)
	require.False(t, r.ToIsStream)
	require.Equal(t, task.RedirAppend, r.Flags)
	require.Equal(t, uint32(0600), r.Mode)
}

func TestParseIORedirect_StreamTarget(t *testing.T) {
	r, err := ParseIORedirect("STDERR STDOUT")
	require.NoError(t, err)
	require.True(t, r.ToIsStream)
	require.Equal(t, "STDOUT", r.To)
}

func TestParseIORedirect_RejectsRelativePath(t *testing.T) {
	_, err := ParseIORedirect("STDOUT relative/path")
	require.Error(t, err)
}

func TestParseIORedirect_StdinDropsAppend(t *testing.T) {
	r, err := ParseIORedirect("STDIN /dev/null APPEND")
	require.NoError(t, err)
	require.Equal(t, task.RedirFlags(0), r.Flags&task.RedirAppend)
}
