package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"syncapp/internal/config"
	"syncapp/internal/core"
)

// SSH adapts a directory on a remote host over SFTP. The backend-native
// identity is the absolute remote path; the session is the host.
type SSH struct {
	client  *sftp.Client
	base    *url.URL
	session string
	root    string
}

// NewSSH creates an endpoint rooted at the path of baseURL
// (ssh://host[:port]/some/dir) using the credentials from cfg.
func NewSSH(ctx context.Context, baseURL *url.URL, cfg config.SSHConfig) (*SSH, error) {
	if baseURL.Scheme != "ssh" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: expected ssh://host/..., got %q", core.ErrInvalidURL, baseURL.String())
	}
	root := path.Clean(baseURL.Path)
	if root == "" || root == "." || !strings.HasPrefix(root, "/") {
		return nil, fmt.Errorf("%w: ssh URL must carry an absolute path", core.ErrInvalidURL)
	}

	clientCfg, err := sshClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := baseURL.Host
	if baseURL.Port() == "" {
		addr = net.JoinHostPort(baseURL.Hostname(), "22")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, core.Transient(fmt.Errorf("dialing %s: %w", addr, err))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client, err := sftp.NewClient(ssh.NewClient(sshConn, chans, reqs))
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("opening sftp session on %s: %w", addr, err)
	}

	u := *baseURL
	u.Path = root
	return &SSH{client: client, base: &u, session: u.Host, root: root}, nil
}

func sshClientConfig(cfg config.SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh endpoints need key_file or password configured")
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         30 * time.Second,
	}, nil
}

// rootPrefix is the root with exactly one trailing slash, usable for both
// containment checks and relative-path trimming even when the root is "/".
func (s *SSH) rootPrefix() string {
	if s.root == "/" {
		return "/"
	}
	return s.root + "/"
}

func (s *SSH) ServiceType() core.ServiceType { return core.ServiceSSH }
func (s *SSH) Session() string               { return s.session }
func (s *SSH) BaseURL() *url.URL             { return s.base }

// Close tears down the SFTP session and the underlying connection.
func (s *SSH) Close() error {
	return s.client.Close()
}

func (s *SSH) List(ctx context.Context, fn func(core.Entry) error) error {
	w := s.client.Walk(s.root)
	for w.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Err(); err != nil {
			if os.IsNotExist(err) && w.Path() == s.root {
				return fmt.Errorf("%w: %s", core.ErrNotFound, s.root)
			}
			return classifySSH(err)
		}
		p := w.Path()
		if p == s.root {
			continue
		}
		info := w.Stat()
		if info == nil {
			continue
		}
		if err := fn(core.Entry{
			Ident:   p,
			RelPath: strings.TrimPrefix(p, s.rootPrefix()),
			Size:    info.Size(),
			MTime:   info.ModTime().Unix(),
			IsDir:   info.IsDir(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SSH) Stat(ctx context.Context, ident string) (int64, int64, error) {
	info, err := s.client.Stat(ident)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return 0, 0, classifySSH(err)
	}
	return info.Size(), info.ModTime().Unix(), nil
}

func (s *SSH) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	f, err := s.client.Open(ident)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return nil, classifySSH(err)
	}
	return f, nil
}

// Write streams to a temporary name in the target directory and renames it
// into place, so remote readers never observe a partial file. The source
// mtime is preserved on the result.
func (s *SSH) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	target := path.Join(s.root, relPath)
	if !strings.HasPrefix(target, s.rootPrefix()) {
		return "", fmt.Errorf("%w: %q escapes endpoint root", core.ErrInvalidURL, relPath)
	}

	dir := path.Dir(target)
	if err := s.client.MkdirAll(dir); err != nil {
		return "", classifySSH(fmt.Errorf("creating %s: %w", dir, err))
	}

	tmp := path.Join(dir, ".syncapp-"+path.Base(target))
	f, err := s.client.Create(tmp)
	if err != nil {
		return "", classifySSH(fmt.Errorf("creating %s: %w", tmp, err))
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.client.Remove(tmp)
		return "", classifySSH(fmt.Errorf("writing %s: %w", target, err))
	}
	if err := f.Close(); err != nil {
		s.client.Remove(tmp)
		return "", classifySSH(fmt.Errorf("closing %s: %w", target, err))
	}
	if err := s.client.PosixRename(tmp, target); err != nil {
		s.client.Remove(tmp)
		return "", classifySSH(fmt.Errorf("renaming into %s: %w", target, err))
	}

	mt := time.Unix(mtime, 0)
	if err := s.client.Chtimes(target, mt, mt); err != nil {
		return "", classifySSH(fmt.Errorf("setting mtime on %s: %w", target, err))
	}
	return target, nil
}

func (s *SSH) Delete(ctx context.Context, ident string) error {
	if err := s.client.Remove(ident); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrNotFound, ident)
		}
		return classifySSH(err)
	}
	return nil
}

func (s *SSH) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, s.base)
	if err != nil {
		return "", err
	}
	p := path.Join(s.root, rel)
	if _, err := s.client.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", core.ErrNotFound, p)
		}
		return "", classifySSH(err)
	}
	return p, nil
}

// classifySSH maps sftp status and connection errors onto the retryability
// scheme. A lost connection is worth retrying; the server saying no is not.
func classifySSH(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	case os.IsPermission(err):
		return core.Permanent(err)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost),
		errors.Is(err, sftp.ErrSSHFxNoConnection),
		errors.Is(err, io.EOF):
		return core.Transient(err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return core.Transient(err)
	}
	return core.Permanent(err)
}

var _ core.Endpoint = (*SSH)(nil)
