package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/tool"
)

const defaultSummaryLines = 60

var summaryExtensions = map[string]struct{}{".txt": {}, ".md": {}}

// SummarizeArgs 是 summarize_txt_file 的参数。
type SummarizeArgs struct {
	FileName string `json:"file_name"`
	MaxLines int    `json:"max_lines"`
}

// Summary 是摘要结果。
type Summary struct {
	FileName  string `json:"file_name"`
	Summary   string `json:"summary"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

// Summarizer 读取文档目录中的文本文件并返回开头若干行。
type Summarizer struct {
	dir string
}

// NewSummarizer 创建以 dir 为根的摘要工具。
func NewSummarizer(dir string) *Summarizer {
	return &Summarizer{dir: dir}
}

// Tool 返回 summarize_txt_file 工具。
func (s *Summarizer) Tool() tool.Tool {
	spec := llm.ToolSpec{
		Name:        "summarize_txt_file",
		Description: "Summarize a .txt or .md file from the docs directory by returning its first lines.",
		Parameters: map[string]any{
			"file_name": map[string]any{"type": "string", "description": "File name relative to the docs directory."},
			"max_lines": map[string]any{"type": "integer", "description": "Maximum number of lines to return.", "default": defaultSummaryLines},
		},
		Required: []string{"file_name"},
	}
	return tool.Typed(spec, func(_ context.Context, args SummarizeArgs) (any, error) {
		return s.Summarize(args.FileName, args.MaxLines)
	})
}

// Summarize 返回文件前 maxLines 行；超出部分以 "... (truncated, N more lines)" 结尾。
func (s *Summarizer) Summarize(name string, maxLines int) (Summary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Summary{}, tool.Invalid("file_name 不能为空")
	}
	if maxLines <= 0 {
		maxLines = defaultSummaryLines
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(clean) {
		return Summary{}, tool.Invalid("文件 %s 不在文档目录内", name)
	}
	if _, ok := summaryExtensions[strings.ToLower(filepath.Ext(clean))]; !ok {
		return Summary{}, tool.Invalid("仅支持 .txt 与 .md 文件: %s", name)
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return Summary{}, xerrors.Wrap(xerrors.CodeUnknown, err, "打开文档目录失败")
	}
	defer root.Close()

	raw, err := readAll(root, clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Summary{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("File not found: %s", name))
		}
		return Summary{}, xerrors.Wrap(xerrors.CodeUnknown, err, "读取文件失败")
	}

	lines := splitLines(string(raw))
	out := Summary{FileName: name, Lines: len(lines)}
	if len(lines) <= maxLines {
		out.Summary = strings.Join(lines, "")
		return out, nil
	}
	out.Summary = strings.Join(lines[:maxLines], "") + fmt.Sprintf("\n... (truncated, %d more lines)", len(lines)-maxLines)
	out.Truncated = true
	return out, nil
}

// splitLines 按行切分并保留换行符，最后一行可以没有换行符。
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
