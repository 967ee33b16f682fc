package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/tool"
)

const maxReadSize = 1 << 20

// PathArgs 只携带路径。
type PathArgs struct {
	Path string `json:"path"`
}

// WriteArgs 携带路径与内容。
type WriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Workspace 把文件操作限制在一个根目录之内。
type Workspace struct {
	dir string
}

// NewWorkspace 创建工作区，目录不存在时自动创建。
func NewWorkspace(dir string) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "工作区目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "创建工作区目录失败")
	}
	return &Workspace{dir: dir}, nil
}

// Tools 返回全部工作区工具。
func (w *Workspace) Tools() []tool.Tool {
	pathParam := map[string]any{"type": "string", "description": "Path relative to the workspace root."}
	contentParam := map[string]any{"type": "string", "description": "Full file content."}
	writeParams := map[string]any{"path": pathParam, "content": contentParam}

	return []tool.Tool{
		tool.Typed(llm.ToolSpec{
			Name:        "create_file",
			Description: "Create a new file in the workspace. Fails if the file already exists.",
			Parameters:  writeParams,
			Required:    []string{"path", "content"},
		}, func(_ context.Context, a WriteArgs) (any, error) {
			if err := w.write(a.Path, a.Content, true); err != nil {
				return nil, err
			}
			return map[string]any{"message": "Created file " + a.Path}, nil
		}),
		tool.Typed(llm.ToolSpec{
			Name:        "read_file",
			Description: "Read a file from the workspace.",
			Parameters:  map[string]any{"path": pathParam},
			Required:    []string{"path"},
		}, func(_ context.Context, a PathArgs) (any, error) {
			content, err := w.read(a.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": content}, nil
		}),
		tool.Typed(llm.ToolSpec{
			Name:        "update_file",
			Description: "Overwrite an existing workspace file.",
			Parameters:  writeParams,
			Required:    []string{"path", "content"},
		}, func(_ context.Context, a WriteArgs) (any, error) {
			if err := w.write(a.Path, a.Content, false); err != nil {
				return nil, err
			}
			return map[string]any{"message": "Updated file " + a.Path}, nil
		}),
		tool.Typed(llm.ToolSpec{
			Name:        "delete_file",
			Description: "Delete a file from the workspace.",
			Parameters:  map[string]any{"path": pathParam},
			Required:    []string{"path"},
		}, func(_ context.Context, a PathArgs) (any, error) {
			if err := w.remove(a.Path); err != nil {
				return nil, err
			}
			return map[string]any{"message": "Deleted file " + a.Path}, nil
		}),
		tool.Typed(llm.ToolSpec{
			Name:        "list_dir",
			Description: "List the entries of a workspace directory. Directories end with a slash.",
			Parameters:  map[string]any{"path": pathParam},
		}, func(_ context.Context, a PathArgs) (any, error) {
			items, err := w.list(a.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"items": items}, nil
		}),
	}
}

func (w *Workspace) open() (*os.Root, error) {
	root, err := os.OpenRoot(w.dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "打开工作区失败")
	}
	return root, nil
}

func (w *Workspace) write(name, content string, create bool) error {
	rel, err := localPath(name, false)
	if err != nil {
		return err
	}
	root, err := w.open()
	if err != nil {
		return err
	}
	defer root.Close()

	flags := os.O_WRONLY | os.O_TRUNC
	if create {
		if err := mkdirAll(root, filepath.Dir(rel)); err != nil {
			return err
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := root.OpenFile(rel, flags, 0o644)
	if err != nil {
		return mapFSError(err, name)
	}
	if _, err := io.WriteString(f, content); err != nil {
		_ = f.Close()
		return xerrors.Wrap(xerrors.CodeUnknown, err, "写入文件失败")
	}
	if err := f.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "写入文件失败")
	}
	return nil
}

func (w *Workspace) read(name string) (string, error) {
	rel, err := localPath(name, false)
	if err != nil {
		return "", err
	}
	root, err := w.open()
	if err != nil {
		return "", err
	}
	defer root.Close()
	raw, err := readAll(root, rel)
	if err != nil {
		return "", mapFSError(err, name)
	}
	return string(raw), nil
}

func (w *Workspace) remove(name string) error {
	rel, err := localPath(name, false)
	if err != nil {
		return err
	}
	root, err := w.open()
	if err != nil {
		return err
	}
	defer root.Close()
	info, err := root.Stat(rel)
	if err != nil {
		return mapFSError(err, name)
	}
	if info.IsDir() {
		return tool.Invalid("%s 是目录，delete_file 只能删除文件", name)
	}
	if err := root.Remove(rel); err != nil {
		return mapFSError(err, name)
	}
	return nil
}

func (w *Workspace) list(name string) ([]string, error) {
	rel, err := localPath(name, true)
	if err != nil {
		return nil, err
	}
	root, err := w.open()
	if err != nil {
		return nil, err
	}
	defer root.Close()
	dir, err := root.Open(rel)
	if err != nil {
		return nil, mapFSError(err, name)
	}
	defer dir.Close()
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, mapFSError(err, name)
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() {
			n += "/"
		}
		items = append(items, n)
	}
	sort.Strings(items)
	return items, nil
}

// localPath 校验路径必须位于根目录之内；allowRoot 允许空路径表示根目录本身。
func localPath(name string, allowRoot bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		if allowRoot {
			return ".", nil
		}
		return "", tool.Invalid("path 不能为空")
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if !filepath.IsLocal(clean) {
		return "", tool.Invalid("路径 %s 超出工作区范围", name)
	}
	return clean, nil
}

func mkdirAll(root *os.Root, dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	current := ""
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		if err := root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return mapFSError(err, current)
		}
	}
	return nil
}

func readAll(root *os.Root, rel string) ([]byte, error) {
	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}
	return io.ReadAll(io.LimitReader(f, maxReadSize))
}

func mapFSError(err error, name string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return xerrors.New(xerrors.CodeNotFound, "Path not found: "+name)
	case errors.Is(err, fs.ErrExist):
		return tool.Invalid("文件 %s 已存在", name)
	default:
		return xerrors.Wrap(xerrors.CodeUnknown, err, "文件操作失败")
	}
}
