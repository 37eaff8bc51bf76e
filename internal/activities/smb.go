package activities

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/flowforge/engine/internal/execctx"
)

// SMBActivity implements the `smb` node type (SMB2/3 protocol).
//
// config fields:
//
//	server:        hostname or IP (required)
//	port:          int, default 445
//	share:         SMB share name, e.g. "shared" (required)
//	auth:          map — user (string), password (string), domain (string, optional)
//	folder:        directory path inside the share (default ".")
//	method:        "get" | "put" (required)
//	regex_filter:  regex to filter filenames (get only)
//	overwrite:     bool — overwrite existing destination files (put only, default true)
//	create_folder: bool — create destination folder if missing (put only)
//	local_folder:  local directory used as source (put) or destination (get)
//	files:         []interface{} of filenames to upload (put only)
type SMBActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *SMBActivity) Name() string { return "smb" }

// Execute runs the SMB get or put operation.
func (a *SMBActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	server, ok := config["server"].(string)
	if !ok || server == "" {
		return nil, fmt.Errorf("smb activity: missing required config field 'server'")
	}
	share, ok := config["share"].(string)
	if !ok || share == "" {
		return nil, fmt.Errorf("smb activity: missing required config field 'share'")
	}

	tp, err := parseTransferParams(config)
	if err != nil {
		return nil, fmt.Errorf("smb activity: %w", err)
	}
	if tp.Folder == "" {
		tp.Folder = "."
	}

	share2, closeShare, err := dialSMBShare(server, share, config)
	if err != nil {
		return nil, fmt.Errorf("smb activity: %w", err)
	}
	defer closeShare()

	out, err := runTransfer(&smbFS{share: share2}, tp)
	if err != nil {
		return nil, fmt.Errorf("smb activity: %w", err)
	}
	return out, nil
}

// dialSMBShare opens a TCP connection, negotiates an SMB2 session with NTLM
// auth, and mounts share. The returned closer tears down the mount, the
// session, and the TCP connection in order.
func dialSMBShare(server, share string, config map[string]interface{}) (*smb2.Share, func(), error) {
	port := 445
	switch v := config["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}

	user, password, domain := extractSMBAuth(config)

	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("TCP dial failed: %w", err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: user, Password: password, Domain: domain},
	}
	session, err := dialer.Dial(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("SMB2 session failed: %w", err)
	}

	fs, err := session.Mount(share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return nil, nil, fmt.Errorf("mount share %q: %w", share, err)
	}

	return fs, func() {
		fs.Umount()
		session.Logoff()
		conn.Close()
	}, nil
}

// extractSMBAuth reads user / password / domain from config["auth"].
func extractSMBAuth(config map[string]interface{}) (user, password, domain string) {
	if authMap, ok := config["auth"].(map[string]interface{}); ok {
		user, _ = authMap["user"].(string)
		password, _ = authMap["password"].(string)
		domain, _ = authMap["domain"].(string)
	}
	return user, password, domain
}

// smbFS adapts *smb2.Share to the shared remoteFS transfer interface.
type smbFS struct {
	share *smb2.Share
}

func (f *smbFS) List(folder string) ([]remoteEntry, error) {
	entries, err := f.share.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	out := make([]remoteEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, remoteEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (f *smbFS) Open(path string) (io.ReadCloser, error) { return f.share.Open(path) }

func (f *smbFS) Create(path string) (io.WriteCloser, error) { return f.share.Create(path) }

func (f *smbFS) Exists(path string) bool {
	_, err := f.share.Stat(path)
	return err == nil
}

func (f *smbFS) MkdirAll(path string) error { return f.share.MkdirAll(path) }

func (f *smbFS) Join(folder, name string) string { return filepath.Join(folder, name) }
