package activities

import (
	"fmt"
	"os"

	"github.com/flowforge/engine/internal/execctx"
)

// FileActivity implements the `file` node type: local filesystem create,
// read, and delete operations keyed off config["operation"].
//
// config fields:
//
//	operation: "create" | "read" | "delete" (required)
//	path:      file path (required)
//	content:   string content for create; read from input["content"] first,
//	           falling back to config["content"], same precedence the log
//	           activity uses for its message field
//	mode:      "overwrite" (default) | "append" (create only)
type FileActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *FileActivity) Name() string { return "file" }

// fileOp is a single file operation's implementation.
type fileOp func(path string, input, config map[string]interface{}) (map[string]interface{}, error)

var fileOps = map[string]fileOp{
	"create": fileCreate,
	"read":   fileRead,
	"delete": fileDelete,
}

// Execute dispatches to the handler registered for config["operation"].
func (a *FileActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	operation, ok := config["operation"].(string)
	if !ok || operation == "" {
		return nil, fmt.Errorf("file activity: missing required config field 'operation'")
	}
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("file activity: missing required config field 'path'")
	}

	op, ok := fileOps[operation]
	if !ok {
		return nil, fmt.Errorf("file activity: unknown operation %q (use create, read, delete)", operation)
	}
	out, err := op(path, input, config)
	if err != nil {
		return nil, fmt.Errorf("file activity: %w", err)
	}
	return out, nil
}

func fileCreate(path string, input, config map[string]interface{}) (map[string]interface{}, error) {
	content, ok := input["content"].(string)
	if !ok {
		content, _ = config["content"].(string)
	}

	mode, _ := config["mode"].(string)
	if mode == "" {
		mode = "overwrite"
	}
	var flag int
	switch mode {
	case "overwrite":
		flag = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case "append":
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	default:
		return nil, fmt.Errorf("mode must be 'overwrite' or 'append', got %q", mode)
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("write file %q: %w", path, err)
	}
	return map[string]interface{}{"created": true, "path": path, "bytes_written": len(content)}, nil
}

func fileRead(path string, _, _ map[string]interface{}) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %q: %w", path, err)
	}
	return map[string]interface{}{"content": string(data), "bytes_read": len(data)}, nil
}

func fileDelete(path string, _, _ map[string]interface{}) (map[string]interface{}, error) {
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete file %q: %w", path, err)
	}
	return map[string]interface{}{"deleted": true, "path": path}, nil
}
