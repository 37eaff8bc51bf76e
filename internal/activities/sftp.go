package activities

import (
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/flowforge/engine/internal/execctx"
)

// SFTPActivity implements the `sftp` node type over an SSH/SFTP session.
//
// config fields (all string unless noted):
//
//	server:        hostname or IP (required)
//	port:          int, default 22
//	auth:          map — user (string), password (string) OR private_key (PEM string)
//	host_key:      optional authorized_keys-format public key; when set, the
//	               server's host key must match it exactly (see sftpHostKeyCallback)
//	folder:        remote directory (required)
//	method:        "get" | "put" (required)
//	regex_filter:  regex to filter remote filenames (get only)
//	overwrite:     bool — overwrite existing destination files (put only, default true)
//	create_folder: bool — create destination folder if missing (put only)
//	local_folder:  local directory used as source (put) or destination (get)
//	files:         []interface{} of local filenames to upload (put only)
type SFTPActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *SFTPActivity) Name() string { return "sftp" }

// Execute runs the SFTP get or put operation.
func (a *SFTPActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	server, ok := config["server"].(string)
	if !ok || server == "" {
		return nil, fmt.Errorf("sftp activity: missing required config field 'server'")
	}

	tp, err := parseTransferParams(config)
	if err != nil {
		return nil, fmt.Errorf("sftp activity: %w", err)
	}
	if tp.Folder == "" {
		return nil, fmt.Errorf("sftp activity: missing required config field 'folder'")
	}

	client, closeClient, err := dialSFTP(server, config)
	if err != nil {
		return nil, fmt.Errorf("sftp activity: %w", err)
	}
	defer closeClient()

	out, err := runTransfer(&sftpFS{client: client}, tp)
	if err != nil {
		return nil, fmt.Errorf("sftp activity: %w", err)
	}
	return out, nil
}

// dialSFTP opens a TCP connection, performs the SSH handshake, and opens an
// SFTP session on top of it. The returned closer tears down the SSH client
// and SFTP session together.
func dialSFTP(server string, config map[string]interface{}) (*sftp.Client, func(), error) {
	port := 22
	switch v := config["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}

	sshCfg, err := buildSSHClientConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("build SSH config: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("TCP dial failed: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("SSH handshake failed: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return sftpClient, func() {
		sftpClient.Close()
		sshClient.Close()
	}, nil
}

// buildSSHClientConfig builds an ssh.ClientConfig from the activity config's
// auth map (user/password or private_key) and, when host_key is set, pins
// the expected server host key instead of trusting it blindly.
func buildSSHClientConfig(config map[string]interface{}) (*ssh.ClientConfig, error) {
	user := "anonymous"
	var authMethods []ssh.AuthMethod

	if authMap, ok := config["auth"].(map[string]interface{}); ok {
		if u, ok := authMap["user"].(string); ok && u != "" {
			user = u
		}
		if pk, ok := authMap["private_key"].(string); ok && pk != "" {
			signer, err := ssh.ParsePrivateKey([]byte(pk))
			if err != nil {
				return nil, fmt.Errorf("parse private_key: %w", err)
			}
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}
		if pass, ok := authMap["password"].(string); ok && pass != "" {
			authMethods = append(authMethods, ssh.Password(pass))
		}
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("auth must provide either password or private_key")
	}

	hostKeyCallback, err := sftpHostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

// sftpHostKeyCallback pins the server host key to config["host_key"] (an
// authorized_keys-format public key) when supplied. Without it, the host
// key is accepted unverified — callers that care about MITM protection
// should always set host_key.
func sftpHostKeyCallback(config map[string]interface{}) (ssh.HostKeyCallback, error) {
	raw, ok := config["host_key"].(string)
	if !ok || raw == "" {
		//nolint:gosec // no host_key configured: accept whatever key the server presents.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	pubKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse host_key: %w", err)
	}
	return ssh.FixedHostKey(pubKey), nil
}

// sftpFS adapts *sftp.Client to the shared remoteFS transfer interface.
type sftpFS struct {
	client *sftp.Client
}

func (f *sftpFS) List(folder string) ([]remoteEntry, error) {
	entries, err := f.client.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	out := make([]remoteEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, remoteEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (f *sftpFS) Open(path string) (io.ReadCloser, error) { return f.client.Open(path) }

func (f *sftpFS) Create(path string) (io.WriteCloser, error) { return f.client.Create(path) }

func (f *sftpFS) Exists(path string) bool {
	_, err := f.client.Stat(path)
	return err == nil
}

func (f *sftpFS) MkdirAll(p string) error { return f.client.MkdirAll(p) }

func (f *sftpFS) Join(folder, name string) string { return path.Join(folder, name) }
