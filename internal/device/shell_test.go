package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeShell struct {
	outputs map[string]string
	errs    map[string]error
	cmds    []string
	closed  int
}

func (f *fakeShell) Run(cmd string) (string, error) {
	f.cmds = append(f.cmds, cmd)
	for prefix, err := range f.errs {
		if strings.HasPrefix(cmd, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeShell) Close() error {
	f.closed++
	return nil
}

func newTestShellAdapter(conn *fakeShell) *ShellAdapter {
	a := NewShellAdapter("10.0.0.1:22", "admin", "secret", time.Second, zap.NewNop())
	a.dial = func(string, string, string, time.Duration) (shellConn, error) {
		return conn, nil
	}
	return a
}

func TestShellAdapter_CreateCredential_QuotesValues(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{}
	err := newTestShellAdapter(conn).CreateCredential(context.Background(), Credential{
		Name:    "joao.souza",
		Secret:  `p"a$s`,
		Profile: "100M",
		Comment: "Contract 7 - Joao Souza",
	})
	require.NoError(t, err)
	require.Equal(t, 1, conn.closed)
	require.Equal(t,
		`/ppp secret add name="joao.souza" service=pppoe password="p\"a\$s" profile="100M" comment="Contract 7 - Joao Souza" disabled=no`,
		conn.cmds[0])
}

func TestShellAdapter_Disable_FindsBeforeMutating(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{outputs: map[string]string{
		"/ppp secret print": ` 0   name="joao.souza" service=pppoe password="x" profile=100M` + "\n",
	}}
	require.NoError(t, newTestShellAdapter(conn).DisableCredential(context.Background(), "joao.souza"))
	require.Equal(t, []string{
		`/ppp secret print terse without-paging where name="joao.souza"`,
		`/ppp secret disable [find where name="joao.souza"]`,
	}, conn.cmds)
}

func TestShellAdapter_MissingObject(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{}
	err := newTestShellAdapter(conn).DeleteProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.Len(t, conn.cmds, 1)
	require.Equal(t, 1, conn.closed)
}

func TestShellAdapter_FailureOutputIsCommandFailed(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{outputs: map[string]string{
		"/ppp profile add": "failure: profile with such name already exists\n",
	}}
	err := newTestShellAdapter(conn).CreateProfile(context.Background(), Profile{Name: "10M", RateLimit: "10M/10M"})
	require.ErrorIs(t, err, ErrCommandFailed)
}

func TestShellAdapter_TransportErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{errs: map[string]error{"/ppp secret print": errors.New("EOF")}}
	_, err := newTestShellAdapter(conn).ListCredentials(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, 1, conn.closed)
}

func TestShellAdapter_ListCredentials(t *testing.T) {
	t.Parallel()

	out := strings.Join([]string{
		"Flags: X - disabled",
		` 0   name="maria.silva" service=pppoe caller-id="" password="abc123" profile=50M routes="" limit-bytes-in=0`,
		";;; Contract 2 - Ana",
		` 1 X name="ana" service=pppoe password="p w" profile="plan 10M"`,
		"",
	}, "\r\n")
	conn := &fakeShell{outputs: map[string]string{"/ppp secret print": out}}

	creds, err := newTestShellAdapter(conn).ListCredentials(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 2)

	require.Equal(t, "maria.silva", creds[0].Name)
	require.Equal(t, "abc123", creds[0].Secret)
	require.Equal(t, "50M", creds[0].Profile)
	require.False(t, creds[0].Disabled)

	require.Equal(t, "ana", creds[1].Name)
	require.Equal(t, "p w", creds[1].Secret)
	require.Equal(t, "plan 10M", creds[1].Profile)
	require.Equal(t, "Contract 2 - Ana", creds[1].Comment)
	require.True(t, creds[1].Disabled)
}

func TestShellAdapter_FindActiveSession_FiltersOnDevice(t *testing.T) {
	t.Parallel()

	conn := &fakeShell{outputs: map[string]string{
		"/ppp active print": ` 0 R name="maria.silva" service=pppoe caller-id="AA:BB:CC:00:11:22" address=100.64.1.2 uptime=1h2m3s`,
	}}
	session, err := newTestShellAdapter(conn).FindActiveSession(context.Background(), "maria.silva")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "100.64.1.2", session.Address)
	require.Equal(t, "1h2m3s", session.Uptime)
	require.Equal(t, `/ppp active print terse without-paging where name="maria.silva"`, conn.cmds[0])
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"0", "X", "name=a b", `comment=say "hi"`, "empty="},
		tokenize(`0 X name="a b" comment="say \"hi\"" empty=""`))
}
