package activities

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// remoteEntry describes one item returned by a remoteFS directory listing.
type remoteEntry struct {
	Name  string
	IsDir bool
}

// remoteFS is the minimal surface the shared get/put transfer walk needs
// from a connected transport. sftp.go, s3.go, and smb.go each adapt their
// native client to this interface so the directory listing, regex
// filtering, overwrite-skip, and upload/download accounting logic — which
// spec.md §4.2 specifies identically for all three activities — lives in
// one place instead of being re-implemented per transport.
type remoteFS interface {
	List(folder string) ([]remoteEntry, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Exists(path string) bool
	MkdirAll(path string) error
	Join(folder, name string) string
}

// transferParams is the get/put config shape shared by sftp, s3, and smb.
type transferParams struct {
	Method       string
	Folder       string
	LocalFolder  string
	Filter       *regexp.Regexp
	Overwrite    bool
	CreateFolder bool
	Files        []string
}

// parseTransferParams reads the method/folder/regex_filter/overwrite/files
// fields common to the three file-transfer activities. It is called before
// any network connection is opened so a bad method or regex is rejected
// without paying for a dial.
func parseTransferParams(cfg map[string]interface{}) (transferParams, error) {
	tp := transferParams{Overwrite: true, LocalFolder: "."}

	method, _ := cfg["method"].(string)
	if method != "get" && method != "put" {
		return tp, fmt.Errorf("config field 'method' must be 'get' or 'put'")
	}
	tp.Method = method

	tp.Folder, _ = cfg["folder"].(string)
	if lf, ok := cfg["local_folder"].(string); ok && lf != "" {
		tp.LocalFolder = lf
	}

	if rf, ok := cfg["regex_filter"].(string); ok && rf != "" {
		compiled, err := regexp.Compile(rf)
		if err != nil {
			return tp, fmt.Errorf("invalid regex_filter %q: %w", rf, err)
		}
		tp.Filter = compiled
	}

	if ow, ok := cfg["overwrite"].(bool); ok {
		tp.Overwrite = ow
	}
	tp.CreateFolder, _ = cfg["create_folder"].(bool)

	if flist, ok := cfg["files"].([]interface{}); ok {
		for _, f := range flist {
			if s, ok := f.(string); ok {
				tp.Files = append(tp.Files, s)
			}
		}
	}
	return tp, nil
}

// runTransfer executes tp.Method against fs, yielding the {files_downloaded,
// count} or {files_uploaded, count} output shape every file-transfer
// activity reports.
func runTransfer(fs remoteFS, tp transferParams) (map[string]interface{}, error) {
	switch tp.Method {
	case "get":
		return transferGet(fs, tp)
	case "put":
		return transferPut(fs, tp)
	default:
		return nil, fmt.Errorf("unknown method %q", tp.Method)
	}
}

func transferGet(fs remoteFS, tp transferParams) (map[string]interface{}, error) {
	entries, err := fs.List(tp.Folder)
	if err != nil {
		return nil, fmt.Errorf("list remote folder %q: %w", tp.Folder, err)
	}

	downloaded := []string{}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if tp.Filter != nil && !tp.Filter.MatchString(entry.Name) {
			continue
		}
		remote, err := fs.Open(fs.Join(tp.Folder, entry.Name))
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", entry.Name, err)
		}
		if err := writeLocalFile(filepath.Join(tp.LocalFolder, entry.Name), remote); err != nil {
			return nil, fmt.Errorf("download %q: %w", entry.Name, err)
		}
		downloaded = append(downloaded, entry.Name)
	}
	return map[string]interface{}{
		"files_downloaded": downloaded,
		"count":            len(downloaded),
	}, nil
}

func transferPut(fs remoteFS, tp transferParams) (map[string]interface{}, error) {
	if tp.CreateFolder {
		if err := fs.MkdirAll(tp.Folder); err != nil {
			return nil, fmt.Errorf("create remote folder %q: %w", tp.Folder, err)
		}
	}

	uploaded := []string{}
	var skipped []string
	for _, name := range tp.Files {
		remotePath := fs.Join(tp.Folder, name)
		if !tp.Overwrite && fs.Exists(remotePath) {
			skipped = append(skipped, name)
			continue
		}

		local, err := os.Open(filepath.Join(tp.LocalFolder, name))
		if err != nil {
			return nil, fmt.Errorf("open local file %q: %w", name, err)
		}
		uploadErr := uploadToRemote(fs, remotePath, local)
		local.Close()
		if uploadErr != nil {
			return nil, fmt.Errorf("upload %q: %w", name, uploadErr)
		}
		uploaded = append(uploaded, name)
	}

	out := map[string]interface{}{
		"files_uploaded": uploaded,
		"count":          len(uploaded),
	}
	if len(skipped) > 0 {
		out["files_skipped"] = skipped
	}
	return out, nil
}

// writeLocalFile drains r into a newly created local file, closing r
// regardless of outcome.
func writeLocalFile(path string, r io.ReadCloser) error {
	defer r.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// uploadToRemote drains r into a newly created remote file.
func uploadToRemote(fs remoteFS, remotePath string, r io.Reader) error {
	w, err := fs.Create(remotePath)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = io.Copy(w, r)
	return err
}
