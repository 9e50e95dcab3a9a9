package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPC struct {
	mu      sync.Mutex
	calls   [][]string
	replies map[string][]map[string]string
	fail    map[string]error
	closed  int
	delay   time.Duration
}

func (f *fakeRPC) RunArgs(sentence []string) (*routeros.Reply, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentence)

	if err, ok := f.fail[sentence[0]]; ok {
		return nil, err
	}

	reply := &routeros.Reply{}
	for _, m := range f.replies[sentence[0]] {
		reply.Re = append(reply.Re, &proto.Sentence{Word: "!re", Map: m})
	}
	return reply, nil
}

func (f *fakeRPC) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeRPC) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c[0])
	}
	return out
}

func newTestAPIAdapter(conn *fakeRPC) *APIAdapter {
	a := NewAPIAdapter("10.0.0.1:8728", "admin", "secret", time.Second, zap.NewNop())
	a.dial = func(string, string, string, time.Duration) (rpcConn, error) {
		return conn, nil
	}
	return a
}

func TestAPIAdapter_CreateCredential(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{}
	a := newTestAPIAdapter(conn)

	err := a.CreateCredential(context.Background(), Credential{
		Name:    "maria.silva",
		Secret:  "Xk7pQ2mR",
		Profile: "50M",
		Comment: "Contract 1 - Maria Silva",
	})
	require.NoError(t, err)
	require.Equal(t, 1, conn.closed)
	require.Len(t, conn.calls, 1)

	words := conn.calls[0]
	require.Equal(t, "/ppp/secret/add", words[0])
	require.Contains(t, words, "=name=maria.silva")
	require.Contains(t, words, "=password=Xk7pQ2mR")
	require.Contains(t, words, "=profile=50M")
	require.Contains(t, words, "=service=pppoe")
	require.Contains(t, words, "=disabled=no")
	require.Contains(t, words, "=comment=Contract 1 - Maria Silva")
}

func TestAPIAdapter_DisableCredential_FindsBeforeMutating(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{replies: map[string][]map[string]string{
		"/ppp/secret/print": {{".id": "*1A", "name": "maria.silva"}},
	}}
	a := newTestAPIAdapter(conn)

	require.NoError(t, a.DisableCredential(context.Background(), "maria.silva"))
	require.Equal(t, []string{"/ppp/secret/print", "/ppp/secret/set"}, conn.commands())
	require.Contains(t, conn.calls[0], "?name=maria.silva")
	require.Contains(t, conn.calls[1], "=.id=*1A")
	require.Contains(t, conn.calls[1], "=disabled=yes")
}

func TestAPIAdapter_MutationOfMissingObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		call func(a *APIAdapter) error
	}{
		{"update credential", func(a *APIAdapter) error {
			return a.UpdateCredential(context.Background(), "ghost", Credential{Profile: "10M"})
		}},
		{"delete credential", func(a *APIAdapter) error { return a.DeleteCredential(context.Background(), "ghost") }},
		{"enable credential", func(a *APIAdapter) error { return a.EnableCredential(context.Background(), "ghost") }},
		{"update profile", func(a *APIAdapter) error {
			return a.UpdateProfile(context.Background(), "ghost", Profile{RateLimit: "1M/1M"})
		}},
		{"delete profile", func(a *APIAdapter) error { return a.DeleteProfile(context.Background(), "ghost") }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conn := &fakeRPC{}
			err := tc.call(newTestAPIAdapter(conn))
			require.ErrorIs(t, err, ErrObjectNotFound)
			require.Len(t, conn.calls, 1, "no mutation may follow a failed lookup")
			require.True(t, strings.HasSuffix(conn.calls[0][0], "/print"))
			require.Equal(t, 1, conn.closed)
		})
	}
}

func TestAPIAdapter_UpdateProfile_Rename(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{replies: map[string][]map[string]string{
		"/ppp/profile/print": {{".id": "*5", "name": "old"}},
	}}
	a := newTestAPIAdapter(conn)

	err := a.UpdateProfile(context.Background(), "old", Profile{Name: "new", RateLimit: "10M/20M", SessionTimeout: "1d"})
	require.NoError(t, err)

	set := conn.calls[1]
	require.Equal(t, "/ppp/profile/set", set[0])
	require.Contains(t, set, "=name=new")
	require.Contains(t, set, "=rate-limit=10M/20M")
	require.Contains(t, set, "=session-timeout=1d")
}

func TestAPIAdapter_ErrorKinds(t *testing.T) {
	t.Parallel()

	rejected := &routeros.DeviceError{Sentence: &proto.Sentence{Word: "!trap", Map: map[string]string{"message": "failure: already have user with this name"}}}
	conn := &fakeRPC{fail: map[string]error{"/ppp/secret/add": rejected}}

	err := newTestAPIAdapter(conn).CreateCredential(context.Background(), Credential{Name: "dup"})
	require.ErrorIs(t, err, ErrCommandFailed)
	require.Equal(t, 1, conn.closed)

	conn = &fakeRPC{fail: map[string]error{"/ppp/secret/print": errors.New("connection reset by peer")}}
	_, err = newTestAPIAdapter(conn).ListCredentials(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, 1, conn.closed)
}

func TestAPIAdapter_DialFailureIsUnreachable(t *testing.T) {
	t.Parallel()

	a := NewAPIAdapter("10.0.0.1:8728", "admin", "secret", time.Second, zap.NewNop())
	a.dial = func(string, string, string, time.Duration) (rpcConn, error) {
		return nil, errors.New("dial tcp 10.0.0.1:8728: connect: connection refused")
	}

	_, err := a.ListProfiles(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestAPIAdapter_TimeoutIsUnreachable(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{delay: 200 * time.Millisecond}
	a := newTestAPIAdapter(conn)
	a.timeout = 20 * time.Millisecond

	err := a.CreateProfile(context.Background(), Profile{Name: "slow", RateLimit: "1M/1M"})
	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	settled := Settled(err)
	require.NotNil(t, settled, "the stalled call is still running")
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled call never settled")
	}
	require.NotEmpty(t, conn.commands(), "the call reached the device after the caller gave up")
}

func TestSettled_OnlyForCallsInFlight(t *testing.T) {
	t.Parallel()

	require.Nil(t, Settled(nil))
	require.Nil(t, Settled(errors.New("boom")))
	require.Nil(t, Settled(unreachable("credential.add", errors.New("dial tcp: refused"))))

	ch := make(chan struct{})
	err := fmt.Errorf("bootstrap: %w", TimedOut("credential.add", context.DeadlineExceeded, ch))
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, (<-chan struct{})(ch), Settled(err))
}

func TestAPIAdapter_FindActiveSession(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{replies: map[string][]map[string]string{
		"/ppp/active/print": {{"name": "maria.silva", "address": "100.64.0.10", "caller-id": "AA:BB:CC:DD:EE:FF", "uptime": "3h2m", "service": "pppoe"}},
	}}
	session, err := newTestAPIAdapter(conn).FindActiveSession(context.Background(), "maria.silva")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "100.64.0.10", session.Address)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", session.CallerID)
	require.Equal(t, []string{"/ppp/active/print", "?name=maria.silva"}, conn.calls[0])

	empty := &fakeRPC{}
	session, err = newTestAPIAdapter(empty).FindActiveSession(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestAPIAdapter_ListCredentials(t *testing.T) {
	t.Parallel()

	conn := &fakeRPC{replies: map[string][]map[string]string{
		"/ppp/secret/print": {
			{"name": "a", "password": "pa", "profile": "10M", "service": "pppoe", "comment": "x; y \"z\"", "disabled": "false"},
			{"name": "b", "password": "pb", "profile": "20M", "service": "pppoe", "disabled": "true"},
		},
	}}

	creds, err := newTestAPIAdapter(conn).ListCredentials(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 2)
	require.Equal(t, "x; y \"z\"", creds[0].Comment)
	require.False(t, creds[0].Disabled)
	require.True(t, creds[1].Disabled)
}
