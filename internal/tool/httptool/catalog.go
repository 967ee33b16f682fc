package httptool

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 参数位置。
const (
	InPath  = "path"
	InQuery = "query"
	InBody  = "body"
)

// Catalog 是列出全部 REST 工具的 YAML 文档。
type Catalog struct {
	Tools []Definition `yaml:"tools"`
}

// Definition 声明一个供应商接口。
type Definition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Enabled     *bool             `yaml:"enabled"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Params      []Param           `yaml:"params"`
	ResultPath  string            `yaml:"result_path"`
	Fields      map[string]string `yaml:"fields"`
	Timeout     string            `yaml:"timeout"`
	Resolve     *Resolve          `yaml:"resolve"`
}

// Param 声明一个由模型提供的参数。
type Param struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	In          string `yaml:"in"`
	Default     any    `yaml:"default"`
}

// Resolve 在发送主请求前把可读名称参数解析为供应商 ID。
type Resolve struct {
	Param     string   `yaml:"param"`
	Into      string   `yaml:"into"`
	Policy    string   `yaml:"policy"`
	List      ListCall `yaml:"list"`
	ItemsPath string   `yaml:"items_path"`
	IDField   string   `yaml:"id_field"`
	NameField string   `yaml:"name_field"`
}

// ListCall 是 Resolve 使用的查询请求，query 中的 "{query}" 会被替换为待解析的名称。
type ListCall struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
}

// IsEnabled 判断工具是否需要注册，未显式关闭即视为启用。
func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// RequestTimeout 解析工具自身的超时，缺省或非法时返回 def。
func (d Definition) RequestTimeout(def time.Duration) time.Duration {
	if d.Timeout == "" {
		return def
	}
	parsed, err := time.ParseDuration(d.Timeout)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// Lookup 查询目录中以 ${VAR} 引用的环境变量。
type Lookup func(key string) (string, bool)

// LoadCatalog 从磁盘读取 YAML 目录，并通过 lookup（为 nil 时使用 os.LookupEnv）
// 展开 ${VAR} 与 ${VAR:-default} 引用。
func LoadCatalog(path string, lookup Lookup) (Catalog, error) {
	if path == "" {
		return Catalog{}, errors.New("工具目录路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("读取工具目录失败: %w", err)
	}
	return ParseCatalog(raw, lookup)
}

// ParseCatalog 解析并展开内存中的目录。
func ParseCatalog(raw []byte, lookup Lookup) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return Catalog{}, fmt.Errorf("解析工具目录失败: %w", err)
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for i := range cat.Tools {
		if err := cat.Tools[i].expand(lookup); err != nil {
			return Catalog{}, err
		}
	}
	return cat, nil
}

// Enabled 返回需要注册的定义。
func (c Catalog) Enabled() []Definition {
	out := make([]Definition, 0, len(c.Tools))
	for _, def := range c.Tools {
		if def.IsEnabled() {
			out = append(out, def)
		}
	}
	return out
}

// Validate 校验目录自身是否一致。
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Tools))
	for _, def := range c.Tools {
		if def.Name == "" {
			return errors.New("工具名称不能为空")
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("工具 %s 重复声明", def.Name)
		}
		seen[def.Name] = struct{}{}
		if !def.IsEnabled() {
			continue
		}
		if err := def.validate(); err != nil {
			return fmt.Errorf("工具 %s: %w", def.Name, err)
		}
	}
	return nil
}

func (d Definition) validate() error {
	if d.URL == "" {
		return errors.New("启用的工具必须配置 url")
	}
	switch strings.ToUpper(d.method()) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("不支持的请求方法 %q", d.Method)
	}
	names := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return errors.New("参数名称不能为空")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("参数 %s 重复声明", p.Name)
		}
		names[p.Name] = struct{}{}
		switch d.location(p) {
		case InPath:
			if !strings.Contains(d.URL, "{"+p.Name+"}") {
				return fmt.Errorf("url 中缺少路径参数 %s", p.Name)
			}
		case InQuery, InBody:
		default:
			return fmt.Errorf("参数 %s 的位置 %q 无法识别", p.Name, p.In)
		}
	}
	if r := d.Resolve; r != nil {
		if _, ok := names[r.Param]; !ok {
			return fmt.Errorf("resolve 引用的参数 %s 未声明", r.Param)
		}
		if r.Into == "" {
			return errors.New("resolve.into 不能为空")
		}
		if r.List.URL == "" {
			return errors.New("resolve.list.url 不能为空")
		}
	}
	return nil
}

func (d Definition) method() string {
	if d.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(d.Method)
}

func (d Definition) location(p Param) string {
	if p.In != "" {
		return strings.ToLower(p.In)
	}
	if strings.Contains(d.URL, "{"+p.Name+"}") {
		return InPath
	}
	switch d.method() {
	case http.MethodGet, http.MethodDelete:
		return InQuery
	default:
		return InBody
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func (d *Definition) expand(lookup Lookup) error {
	var missing []string
	expand := func(s string) string {
		return envPattern.ReplaceAllStringFunc(s, func(m string) string {
			parts := envPattern.FindStringSubmatch(m)
			if v, ok := lookup(parts[1]); ok && v != "" {
				return v
			}
			if parts[2] != "" {
				return parts[3]
			}
			missing = append(missing, parts[1])
			return ""
		})
	}

	d.URL = expand(d.URL)
	d.Headers = expandMap(d.Headers, expand)
	if d.Resolve != nil {
		d.Resolve.List.URL = expand(d.Resolve.List.URL)
		d.Resolve.List.Headers = expandMap(d.Resolve.List.Headers, expand)
		d.Resolve.List.Query = expandMap(d.Resolve.List.Query, expand)
	}
	if len(missing) > 0 && d.IsEnabled() {
		return fmt.Errorf("工具 %s 引用了未设置的变量: %s", d.Name, strings.Join(missing, ", "))
	}
	return nil
}

func expandMap(in map[string]string, expand func(string) string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = expand(v)
	}
	return out
}
