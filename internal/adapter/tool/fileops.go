package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"a3sist/internal/domain"
)

const defaultMaxFileKB = 512

// FileOpsTool reads files and lists directories inside the workspace.
// It exists to gather context for handlers, so it is deliberately
// read-only.
type FileOpsTool struct {
	ws       *Workspace
	maxBytes int64
	logger   *slog.Logger
}

// NewFileOpsTool creates a workspace-confined file tool. maxFileKB caps
// how large a file Execute will read.
func NewFileOpsTool(ws *Workspace, maxFileKB int, logger *slog.Logger) *FileOpsTool {
	if maxFileKB <= 0 {
		maxFileKB = defaultMaxFileKB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileOpsTool{
		ws:       ws,
		maxBytes: int64(maxFileKB) * 1024,
		logger:   logger,
	}
}

func (t *FileOpsTool) Name() string { return "file_operations" }
func (t *FileOpsTool) Description() string {
	return "Read files and list directories inside the workspace"
}

func (t *FileOpsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["read", "list"], "description": "The file operation to perform"},
				"path": {"type": "string", "description": "File or directory path relative to the workspace"}
			},
			"required": ["action"]
		}`),
	}
}

type fileOpsParams struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

func (t *FileOpsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.file_operations", t.logger, params,
		Dispatch(func(p fileOpsParams) string { return p.Action }, ActionMap[fileOpsParams]{
			"read": t.readFile,
			"list": t.listDir,
		}),
	)
}

func (t *FileOpsTool) readFile(_ context.Context, p fileOpsParams) (any, error) {
	resolved, err := t.ws.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use the list action", p.Path)
	}
	if info.Size() > t.maxBytes {
		return nil, fmt.Errorf("file too large: %d KB (limit %d KB)",
			info.Size()/1024, t.maxBytes/1024)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	t.logger.Debug("file read", "path", resolved, "size", len(data))
	return TextResult(string(data)), nil
}

func (t *FileOpsTool) listDir(_ context.Context, p fileOpsParams) (any, error) {
	resolved, err := t.ws.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "%s\n", entry.Name())
		}
	}
	return TextResult(sb.String()), nil
}
