package remote

import (
	"context"
	"fmt"
	"net"

	xssh "golang.org/x/crypto/ssh"
)

// connection bundles the target client with the relay client it may be
// tunneled through, so both are torn down together.
type connection struct {
	client *xssh.Client
	relay  *xssh.Client
}

func (c *connection) Close() {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.relay != nil {
		_ = c.relay.Close()
	}
}

func (e *Executor) clientConfig(ac *AccessConfig) (*xssh.ClientConfig, error) {
	signer, err := LoadPrivateKeySigner(ac.IdentityFile)
	if err != nil {
		return nil, err
	}
	hostKeys := xssh.InsecureIgnoreHostKey()
	if e.KnownHostsPath != "" {
		hostKeys, err = LoadKnownHostsCallback(e.KnownHostsPath)
		if err != nil {
			return nil, err
		}
	}
	return &xssh.ClientConfig{
		User:            ac.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         e.timeout(),
	}, nil
}

// dial connects to host, tunneling through the cluster's relay when one is
// configured. Connections to the relay itself are always direct.
func (e *Executor) dial(ctx context.Context, cluster, host string) (*connection, error) {
	ac := e.accessFor(cluster)
	cfg, err := e.clientConfig(ac)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", e.port()))

	if ac.RelayIP == "" || ac.RelayIP == host {
		cli, err := dialDirect(ctx, addr, cfg)
		if err != nil {
			return nil, err
		}
		return &connection{client: cli}, nil
	}

	relayAddr := net.JoinHostPort(ac.RelayIP, fmt.Sprintf("%d", e.port()))
	relay, err := dialDirect(ctx, relayAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", ac.RelayIP, err)
	}
	conn, err := relay.Dial("tcp", addr)
	if err != nil {
		relay.Close()
		return nil, fmt.Errorf("tunnel to %s via relay: %w", host, err)
	}
	ncc, chans, reqs, err := xssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		relay.Close()
		return nil, fmt.Errorf("ssh handshake via relay: %w", err)
	}
	return &connection{client: xssh.NewClient(ncc, chans, reqs), relay: relay}, nil
}

// dialDirect establishes an SSH connection, honoring context cancellation
// while the handshake is in flight.
func dialDirect(ctx context.Context, addr string, cfg *xssh.ClientConfig) (*xssh.Client, error) {
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := xssh.Dial("tcp", addr, cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.cli != nil {
				r.cli.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
