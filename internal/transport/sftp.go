package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sbak/internal/config"
	"sbak/internal/engine"
)

// sftpSession wraps one SSH connection with an SFTP subsystem client.
// The sftp client multiplexes concurrent requests over the single
// connection, so parallel Fetch calls are safe.
type sftpSession struct {
	conn   *ssh.Client
	client *sftp.Client
}

var _ engine.Session = (*sftpSession)(nil)

// dialSFTP connects and authenticates to an SFTP host.
func dialSFTP(ctx context.Context, hc config.HostConfig) (*sftpSession, error) {
	auth, err := sftpAuthMethods(hc)
	if err != nil {
		return nil, err
	}

	hostKeys, err := sftpHostKeyCallback(hc)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            hc.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         connectTimeout,
	}

	addr := ensurePort(hc.Addr)
	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("starting sftp subsystem: %w", err)
	}

	return &sftpSession{conn: sshClient, client: client}, nil
}

// sftpAuthMethods builds the SSH auth chain: public key first when a
// key file is configured, then password.
func sftpAuthMethods(hc config.HostConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if hc.KeyFile != "" {
		keyData, err := os.ReadFile(hc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", hc.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if hc.Password != "" {
		methods = append(methods, ssh.Password(hc.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("host %s: no authentication configured, set password or key_file", hc.Name)
	}
	return methods, nil
}

// sftpHostKeyCallback verifies host keys against the configured
// known_hosts file. With no file configured, verification is skipped,
// matching StrictHostKeyChecking=no.
func sftpHostKeyCallback(hc config.HostConfig) (ssh.HostKeyCallback, error) {
	if hc.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	cb, err := knownhosts.New(hc.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", hc.KnownHostsFile, err)
	}
	return cb, nil
}

// List walks the remote tree under root and returns every regular
// file. A walk error anywhere under root fails the whole listing; a
// partial listing would be indistinguishable from mass deletion.
func (s *sftpSession) List(ctx context.Context, root string) ([]engine.RemoteFile, error) {
	root = path.Clean(root)

	var files []engine.RemoteFile
	walker := s.client.Walk(root)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("walking %s: %w", walker.Path(), err)
		}

		info := walker.Stat()
		if info == nil || !info.Mode().IsRegular() {
			continue
		}

		rel, ok := relUnder(root, walker.Path())
		if !ok || rel == "" {
			continue
		}
		files = append(files, engine.RemoteFile{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

// Fetch downloads one remote file into localPath.
func (s *sftpSession) Fetch(ctx context.Context, remotePath, localPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	src, err := s.client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("opening remote file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("creating local file: %w", err)
	}

	// io.Copy picks up sftp's concurrent WriteTo fast path.
	written, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return 0, fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return 0, fmt.Errorf("closing local file: %w", err)
	}

	return written, nil
}

// Close shuts down the SFTP subsystem and the SSH connection.
func (s *sftpSession) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
