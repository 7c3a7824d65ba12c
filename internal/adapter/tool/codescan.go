package tool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"a3sist/internal/domain"
)

const (
	defaultScanResults = 50
	maxScanFileSize    = 1 << 20 // skip files over 1 MB
)

// Directories that never hold useful source context.
var scanSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

// CodeScanTool inspects workspace source files: the search action finds a
// regular expression across files, the report action summarizes one
// file's line and declaration structure. Handlers use it to locate and
// size up the code a prompt refers to before calling the model.
type CodeScanTool struct {
	ws     *Workspace
	logger *slog.Logger
}

// NewCodeScanTool creates a workspace-confined code analysis tool.
func NewCodeScanTool(ws *Workspace, logger *slog.Logger) *CodeScanTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeScanTool{ws: ws, logger: logger}
}

func (t *CodeScanTool) Name() string { return "code_analysis" }
func (t *CodeScanTool) Description() string {
	return "Search workspace source files for a pattern or report a file's line and declaration structure"
}

func (t *CodeScanTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["search", "report"], "description": "search for a pattern or report file structure"},
				"pattern": {"type": "string", "description": "Regular expression to search for (search action)"},
				"path": {"type": "string", "description": "File or directory path relative to the workspace"},
				"max_results": {"type": "integer", "description": "Stop after this many matches (default 50)"}
			},
			"required": ["action"]
		}`),
	}
}

type codeScanParams struct {
	Action     string `json:"action"`
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

func (t *CodeScanTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.code_analysis", t.logger, params,
		Dispatch(func(p codeScanParams) string { return p.Action }, ActionMap[codeScanParams]{
			"search": t.search,
			"report": t.report,
		}),
	)
}

func (t *CodeScanTool) search(ctx context.Context, p codeScanParams) (any, error) {
	if p.Pattern == "" {
		return ErrResult("pattern must not be empty")
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return ErrResult("invalid pattern: %v", err)
	}

	root, err := t.ws.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = defaultScanResults
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if scanSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxScanFileSize {
			return nil
		}

		found, err := scanFile(path, re, maxResults-len(matches))
		if err != nil {
			return nil
		}
		for _, m := range found {
			rel, relErr := filepath.Rel(t.ws.Root(), path)
			if relErr != nil {
				rel = path
			}
			matches = append(matches, rel+":"+m)
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return nil, fmt.Errorf("scan: %w", walkErr)
	}

	if len(matches) == 0 {
		return TextResult("no matches"), nil
	}
	t.logger.Debug("code search completed", "pattern", p.Pattern, "matches", len(matches))
	return TextResult(strings.Join(matches, "\n")), nil
}

// scanFile returns up to limit "line:text" matches from one file. Files
// that look binary are skipped.
func scanFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxScanFileSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%d: %s", lineNo, strings.TrimSpace(line)))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, scanner.Err()
}

// declPatterns matches top-level-ish declarations per file extension.
// Extensions not listed produce a report without declaration counts.
var declPatterns = map[string]struct {
	function *regexp.Regexp
	typeDecl *regexp.Regexp
	comment  string
}{
	".go": {
		function: regexp.MustCompile(`^func\s`),
		typeDecl: regexp.MustCompile(`^type\s`),
		comment:  "//",
	},
	".py": {
		function: regexp.MustCompile(`^\s*(async\s+)?def\s`),
		typeDecl: regexp.MustCompile(`^\s*class\s`),
		comment:  "#",
	},
	".cs": {
		function: regexp.MustCompile(`^\s*(public|private|protected|internal|static).*\(`),
		typeDecl: regexp.MustCompile(`^\s*(public|internal)?\s*(class|struct|interface|enum)\s`),
		comment:  "//",
	},
	".js": {
		function: regexp.MustCompile(`^\s*(async\s+)?function\s|=>\s*{`),
		typeDecl: regexp.MustCompile(`^\s*class\s`),
		comment:  "//",
	},
	".ts": {
		function: regexp.MustCompile(`^\s*(async\s+)?function\s|=>\s*{`),
		typeDecl: regexp.MustCompile(`^\s*(export\s+)?(class|interface|type)\s`),
		comment:  "//",
	},
}

var todoRe = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)

func (t *CodeScanTool) report(ctx context.Context, p codeScanParams) (any, error) {
	resolved, err := t.ws.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, the report action takes a file", p.Path)
	}
	if info.Size() > maxScanFileSize {
		return nil, fmt.Errorf("file too large to report: %d KB", info.Size()/1024)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(resolved))
	decls, hasDecls := declPatterns[ext]

	var total, blank, comments, functions, types, todos, longest int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxScanFileSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := scanner.Text()
		total++
		if len(line) > longest {
			longest = len(line)
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			blank++
		case hasDecls && strings.HasPrefix(trimmed, decls.comment):
			comments++
		}
		if hasDecls {
			if decls.function.MatchString(line) {
				functions++
			}
			if decls.typeDecl.MatchString(line) {
				types++
			}
		}
		if todoRe.MatchString(line) {
			todos++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	rel, relErr := filepath.Rel(t.ws.Root(), resolved)
	if relErr != nil {
		rel = p.Path
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "report for %s\n", rel)
	fmt.Fprintf(&sb, "lines: %d (blank %d, comment %d)\n", total, blank, comments)
	if hasDecls {
		fmt.Fprintf(&sb, "functions: %d\n", functions)
		fmt.Fprintf(&sb, "types: %d\n", types)
	}
	fmt.Fprintf(&sb, "todos: %d\n", todos)
	fmt.Fprintf(&sb, "longest line: %d chars", longest)

	t.logger.Debug("code report completed", "path", rel, "lines", total)
	return TextResult(sb.String()), nil
}
