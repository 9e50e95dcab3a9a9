package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// shellConn runs one command per call over an open remote shell connection
type shellConn interface {
	Run(cmd string) (string, error)
	Close() error
}

type shellDialer func(address, username, password string, timeout time.Duration) (shellConn, error)

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Run(cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

func dialSSH(address, username, password string, timeout time.Duration) (shellConn, error) {
	client, err := ssh.Dial("tcp", address, &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	})
	if err != nil {
		return nil, err
	}
	return &sshConn{client: client}, nil
}

// device CLI error markers; output containing any of them is a rejection
var shellFailureMarkers = []string{
	"failure:",
	"bad command name",
	"syntax error",
	"expected end of command",
	"input does not match any value",
	"no such item",
	"invalid value",
}

// ShellAdapter drives a device through its line-oriented CLI. Output is
// tokenized from "print terse" listings.
type ShellAdapter struct {
	address  string
	username string
	password string
	timeout  time.Duration
	dial     shellDialer
	logger   *zap.Logger
}

// NewShellAdapter creates an adapter for one device
func NewShellAdapter(address, username, password string, timeout time.Duration, logger *zap.Logger) *ShellAdapter {
	return &ShellAdapter{
		address:  address,
		username: username,
		password: password,
		timeout:  timeout,
		dial:     dialSSH,
		logger:   logger,
	}
}

func (a *ShellAdapter) session(ctx context.Context, op string, fn func(conn shellConn) error) error {
	return bounded(ctx, a.timeout, op, func() error {
		conn, err := a.dial(a.address, a.username, a.password, a.timeout)
		if err != nil {
			return unreachable(op, err)
		}
		defer conn.Close()

		a.logger.Debug("device shell call", zap.String("op", op), zap.String("address", a.address))
		return fn(conn)
	})
}

func (a *ShellAdapter) exec(conn shellConn, op, cmd string) (string, error) {
	out, err := conn.Run(cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return "", commandFailed(op, fmt.Errorf("%w: %s", err, strings.TrimSpace(out)))
		}
		return "", unreachable(op, err)
	}

	lower := strings.ToLower(out)
	for _, marker := range shellFailureMarkers {
		if strings.Contains(lower, marker) {
			return "", commandFailed(op, errors.New(strings.TrimSpace(out)))
		}
	}
	return out, nil
}

func (a *ShellAdapter) find(conn shellConn, op, menu, name string) ([]terseRecord, error) {
	out, err := a.exec(conn, op, fmt.Sprintf("%s print terse without-paging where name=%s", menu, quote(name)))
	if err != nil {
		return nil, err
	}
	return parseTerse(out), nil
}

// mutate looks the object up first and only then runs the mutation
func (a *ShellAdapter) mutate(ctx context.Context, op, menu, name, cmd string) error {
	return a.session(ctx, op, func(conn shellConn) error {
		records, err := a.find(conn, op, menu, name)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return notFound(op, name)
		}
		_, err = a.exec(conn, op, cmd)
		return err
	})
}

func (a *ShellAdapter) CreateCredential(ctx context.Context, c Credential) error {
	const op = "credential.add"
	cmd := "/ppp secret add name=" + quote(c.Name) + credentialArgs(c) + " disabled=" + yesNo(c.Disabled)
	return a.session(ctx, op, func(conn shellConn) error {
		_, err := a.exec(conn, op, cmd)
		return err
	})
}

func (a *ShellAdapter) UpdateCredential(ctx context.Context, name string, c Credential) error {
	cmd := "/ppp secret set " + findWhere(name)
	if c.Name != "" && c.Name != name {
		cmd += " name=" + quote(c.Name)
	}
	return a.mutate(ctx, "credential.set", "/ppp secret", name, cmd+credentialArgs(c))
}

func (a *ShellAdapter) DeleteCredential(ctx context.Context, name string) error {
	return a.mutate(ctx, "credential.remove", "/ppp secret", name, "/ppp secret remove "+findWhere(name))
}

func (a *ShellAdapter) EnableCredential(ctx context.Context, name string) error {
	return a.mutate(ctx, "credential.enable", "/ppp secret", name, "/ppp secret enable "+findWhere(name))
}

func (a *ShellAdapter) DisableCredential(ctx context.Context, name string) error {
	return a.mutate(ctx, "credential.disable", "/ppp secret", name, "/ppp secret disable "+findWhere(name))
}

func (a *ShellAdapter) CreateProfile(ctx context.Context, p Profile) error {
	const op = "profile.add"
	cmd := "/ppp profile add name=" + quote(p.Name) + profileArgs(p)
	return a.session(ctx, op, func(conn shellConn) error {
		_, err := a.exec(conn, op, cmd)
		return err
	})
}

func (a *ShellAdapter) UpdateProfile(ctx context.Context, name string, p Profile) error {
	cmd := "/ppp profile set " + findWhere(name)
	if p.Name != "" && p.Name != name {
		cmd += " name=" + quote(p.Name)
	}
	return a.mutate(ctx, "profile.set", "/ppp profile", name, cmd+profileArgs(p))
}

func (a *ShellAdapter) DeleteProfile(ctx context.Context, name string) error {
	return a.mutate(ctx, "profile.remove", "/ppp profile", name, "/ppp profile remove "+findWhere(name))
}

func (a *ShellAdapter) FindActiveSession(ctx context.Context, name string) (*Session, error) {
	const op = "session.find"
	var session *Session
	err := a.session(ctx, op, func(conn shellConn) error {
		records, err := a.find(conn, op, "/ppp active", name)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			s := sessionFromMap(records[0].fields)
			session = &s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (a *ShellAdapter) ListCredentials(ctx context.Context) ([]Credential, error) {
	const op = "credential.print"
	var out []Credential
	err := a.session(ctx, op, func(conn shellConn) error {
		text, err := a.exec(conn, op, "/ppp secret print terse without-paging")
		if err != nil {
			return err
		}
		for _, r := range parseTerse(text) {
			c := credentialFromMap(r.fields)
			c.Disabled = c.Disabled || r.disabled
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *ShellAdapter) ListProfiles(ctx context.Context) ([]Profile, error) {
	const op = "profile.print"
	var out []Profile
	err := a.session(ctx, op, func(conn shellConn) error {
		text, err := a.exec(conn, op, "/ppp profile print terse without-paging")
		if err != nil {
			return err
		}
		for _, r := range parseTerse(text) {
			p := profileFromMap(r.fields)
			p.Disabled = p.Disabled || r.disabled
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func credentialArgs(c Credential) string {
	service := c.Service
	if service == "" {
		service = ServicePPPoE
	}
	args := " service=" + service
	if c.Secret != "" {
		args += " password=" + quote(c.Secret)
	}
	if c.Profile != "" {
		args += " profile=" + quote(c.Profile)
	}
	if c.Comment != "" {
		args += " comment=" + quote(c.Comment)
	}
	return args
}

func profileArgs(p Profile) string {
	args := " rate-limit=" + quote(p.RateLimit)
	if p.SessionTimeout != "" {
		args += " session-timeout=" + p.SessionTimeout
	}
	if p.Comment != "" {
		args += " comment=" + quote(p.Comment)
	}
	return args
}

func findWhere(name string) string {
	return "[find where name=" + quote(name) + "]"
}

var shellEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "\n", `\n`, "\r", `\r`)

// quote renders s as a CLI string literal
func quote(s string) string {
	return `"` + shellEscaper.Replace(s) + `"`
}
