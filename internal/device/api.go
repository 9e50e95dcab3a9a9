package device

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
	"go.uber.org/zap"
)

const (
	secretMenu  = "/ppp/secret"
	profileMenu = "/ppp/profile"
	activeMenu  = "/ppp/active"
)

// rpcConn is the subset of the RouterOS API client used here
type rpcConn interface {
	RunArgs(sentence []string) (*routeros.Reply, error)
	Close()
}

type rpcDialer func(address, username, password string, timeout time.Duration) (rpcConn, error)

type routerOSConn struct {
	client *routeros.Client
}

func (c routerOSConn) RunArgs(sentence []string) (*routeros.Reply, error) {
	return c.client.RunArgs(sentence)
}

func (c routerOSConn) Close() {
	c.client.Close()
}

func dialRouterOS(address, username, password string, timeout time.Duration) (rpcConn, error) {
	client, err := routeros.DialTimeout(address, username, password, timeout)
	if err != nil {
		return nil, err
	}
	return routerOSConn{client: client}, nil
}

// APIAdapter drives a device through its structured API. Listings come back
// as flat string maps with comments preserved verbatim, which makes this the
// preferred protocol.
type APIAdapter struct {
	address  string
	username string
	password string
	timeout  time.Duration
	dial     rpcDialer
	logger   *zap.Logger
}

// NewAPIAdapter creates an adapter for one device
func NewAPIAdapter(address, username, password string, timeout time.Duration, logger *zap.Logger) *APIAdapter {
	return &APIAdapter{
		address:  address,
		username: username,
		password: password,
		timeout:  timeout,
		dial:     dialRouterOS,
		logger:   logger,
	}
}

// session opens a connection, runs fn and always closes the connection
func (a *APIAdapter) session(ctx context.Context, op string, fn func(conn rpcConn) error) error {
	return bounded(ctx, a.timeout, op, func() error {
		conn, err := a.dial(a.address, a.username, a.password, a.timeout)
		if err != nil {
			return unreachable(op, err)
		}
		defer conn.Close()

		a.logger.Debug("device api call", zap.String("op", op), zap.String("address", a.address))
		return fn(conn)
	})
}

func (a *APIAdapter) run(conn rpcConn, op string, sentence ...string) ([]*proto.Sentence, error) {
	reply, err := conn.RunArgs(sentence)
	if err != nil {
		var deviceErr *routeros.DeviceError
		if errors.As(err, &deviceErr) {
			return nil, commandFailed(op, err)
		}
		return nil, unreachable(op, err)
	}
	return reply.Re, nil
}

func (a *APIAdapter) findID(conn rpcConn, op, menu, name string) (string, error) {
	re, err := a.run(conn, op, menu+"/print", "?name="+name, "=.proplist=.id,name")
	if err != nil {
		return "", err
	}
	if len(re) == 0 {
		return "", notFound(op, name)
	}
	return re[0].Map[".id"], nil
}

func (a *APIAdapter) CreateCredential(ctx context.Context, c Credential) error {
	const op = "credential.add"
	return a.session(ctx, op, func(conn rpcConn) error {
		words := append([]string{secretMenu + "/add", "=name=" + c.Name}, credentialWords(c)...)
		_, err := a.run(conn, op, append(words, "=disabled="+yesNo(c.Disabled))...)
		return err
	})
}

func (a *APIAdapter) UpdateCredential(ctx context.Context, name string, c Credential) error {
	const op = "credential.set"
	return a.session(ctx, op, func(conn rpcConn) error {
		id, err := a.findID(conn, op, secretMenu, name)
		if err != nil {
			return err
		}
		words := []string{secretMenu + "/set", "=.id=" + id}
		if c.Name != "" && c.Name != name {
			words = append(words, "=name="+c.Name)
		}
		_, err = a.run(conn, op, append(words, credentialWords(c)...)...)
		return err
	})
}

func (a *APIAdapter) DeleteCredential(ctx context.Context, name string) error {
	const op = "credential.remove"
	return a.session(ctx, op, func(conn rpcConn) error {
		id, err := a.findID(conn, op, secretMenu, name)
		if err != nil {
			return err
		}
		_, err = a.run(conn, op, secretMenu+"/remove", "=.id="+id)
		return err
	})
}

func (a *APIAdapter) EnableCredential(ctx context.Context, name string) error {
	return a.setDisabled(ctx, "credential.enable", name, false)
}

func (a *APIAdapter) DisableCredential(ctx context.Context, name string) error {
	return a.setDisabled(ctx, "credential.disable", name, true)
}

func (a *APIAdapter) setDisabled(ctx context.Context, op, name string, disabled bool) error {
	return a.session(ctx, op, func(conn rpcConn) error {
		id, err := a.findID(conn, op, secretMenu, name)
		if err != nil {
			return err
		}
		_, err = a.run(conn, op, secretMenu+"/set", "=.id="+id, "=disabled="+yesNo(disabled))
		return err
	})
}

func (a *APIAdapter) CreateProfile(ctx context.Context, p Profile) error {
	const op = "profile.add"
	return a.session(ctx, op, func(conn rpcConn) error {
		_, err := a.run(conn, op, append([]string{profileMenu + "/add", "=name=" + p.Name}, profileWords(p)...)...)
		return err
	})
}

func (a *APIAdapter) UpdateProfile(ctx context.Context, name string, p Profile) error {
	const op = "profile.set"
	return a.session(ctx, op, func(conn rpcConn) error {
		id, err := a.findID(conn, op, profileMenu, name)
		if err != nil {
			return err
		}
		words := []string{profileMenu + "/set", "=.id=" + id}
		if p.Name != "" && p.Name != name {
			words = append(words, "=name="+p.Name)
		}
		_, err = a.run(conn, op, append(words, profileWords(p)...)...)
		return err
	})
}

func (a *APIAdapter) DeleteProfile(ctx context.Context, name string) error {
	const op = "profile.remove"
	return a.session(ctx, op, func(conn rpcConn) error {
		id, err := a.findID(conn, op, profileMenu, name)
		if err != nil {
			return err
		}
		_, err = a.run(conn, op, profileMenu+"/remove", "=.id="+id)
		return err
	})
}

// FindActiveSession filters on the device with a ?name query so the active
// table is never transferred in full.
func (a *APIAdapter) FindActiveSession(ctx context.Context, name string) (*Session, error) {
	const op = "session.find"
	var session *Session
	err := a.session(ctx, op, func(conn rpcConn) error {
		re, err := a.run(conn, op, activeMenu+"/print", "?name="+name)
		if err != nil {
			return err
		}
		if len(re) > 0 {
			s := sessionFromMap(re[0].Map)
			session = &s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (a *APIAdapter) ListCredentials(ctx context.Context) ([]Credential, error) {
	const op = "credential.print"
	var out []Credential
	err := a.session(ctx, op, func(conn rpcConn) error {
		re, err := a.run(conn, op, secretMenu+"/print")
		if err != nil {
			return err
		}
		for _, s := range re {
			out = append(out, credentialFromMap(s.Map))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *APIAdapter) ListProfiles(ctx context.Context) ([]Profile, error) {
	const op = "profile.print"
	var out []Profile
	err := a.session(ctx, op, func(conn rpcConn) error {
		re, err := a.run(conn, op, profileMenu+"/print")
		if err != nil {
			return err
		}
		for _, s := range re {
			out = append(out, profileFromMap(s.Map))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func credentialWords(c Credential) []string {
	service := c.Service
	if service == "" {
		service = ServicePPPoE
	}
	words := []string{"=service=" + service}
	if c.Secret != "" {
		words = append(words, "=password="+c.Secret)
	}
	if c.Profile != "" {
		words = append(words, "=profile="+c.Profile)
	}
	if c.Comment != "" {
		words = append(words, "=comment="+c.Comment)
	}
	return words
}

func profileWords(p Profile) []string {
	words := []string{"=rate-limit=" + p.RateLimit}
	if p.SessionTimeout != "" {
		words = append(words, "=session-timeout="+p.SessionTimeout)
	}
	if p.Comment != "" {
		words = append(words, "=comment="+p.Comment)
	}
	return words
}

func credentialFromMap(m map[string]string) Credential {
	return Credential{
		Name:     m["name"],
		Secret:   m["password"],
		Profile:  m["profile"],
		Service:  m["service"],
		Comment:  m["comment"],
		Disabled: truthy(m["disabled"]),
	}
}

func profileFromMap(m map[string]string) Profile {
	return Profile{
		Name:           m["name"],
		RateLimit:      m["rate-limit"],
		SessionTimeout: m["session-timeout"],
		Comment:        m["comment"],
		Disabled:       truthy(m["disabled"]),
	}
}

func sessionFromMap(m map[string]string) Session {
	return Session{
		Name:         m["name"],
		Address:      m["address"],
		LocalAddress: m["local-address"],
		CallerID:     m["caller-id"],
		Uptime:       m["uptime"],
		Service:      m["service"],
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(s)
	if err == nil {
		return b
	}
	return s == "yes"
}
