package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition 描述一个智能体。
type Definition struct {
	Name            string   `yaml:"name"`
	App             string   `yaml:"app"`
	Description     string   `yaml:"description"`
	Instruction     string   `yaml:"instruction"`
	InstructionFile string   `yaml:"instruction_file"`
	Tools           []string `yaml:"tools"`
	Brokerage       bool     `yaml:"brokerage"`
	MaxSteps        int      `yaml:"max_steps"`
}

// Catalog 是智能体目录：一个管理者与若干子智能体。
type Catalog struct {
	Manager Definition   `yaml:"manager"`
	Agents  []Definition `yaml:"agents"`
}

// SessionApp 返回智能体会话使用的应用名，未配置时等于智能体名称。
func (d Definition) SessionApp() string {
	if d.App != "" {
		return d.App
	}
	return d.Name
}

// LoadCatalog 读取 YAML 目录，并从 docsDir 加载 instruction_file 指向的指令文本。
func LoadCatalog(path, docsDir string) (Catalog, error) {
	var cat Catalog
	if path == "" {
		return cat, errors.New("智能体目录路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("读取智能体目录失败: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return cat, fmt.Errorf("解析智能体目录失败: %w", err)
	}
	if err := loadInstruction(&cat.Manager, docsDir); err != nil {
		return cat, err
	}
	for i := range cat.Agents {
		if err := loadInstruction(&cat.Agents[i], docsDir); err != nil {
			return cat, err
		}
	}
	return cat, nil
}

func loadInstruction(def *Definition, docsDir string) error {
	if strings.TrimSpace(def.Instruction) != "" || def.InstructionFile == "" {
		return nil
	}
	path := def.InstructionFile
	if !filepath.IsAbs(path) && docsDir != "" {
		path = filepath.Join(docsDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取智能体 %s 的指令文件失败: %w", def.Name, err)
	}
	def.Instruction = string(raw)
	return nil
}

// Validate 检查目录的一致性：管理者必须存在，名称唯一，最多一个券商智能体。
func (c Catalog) Validate() error {
	if c.Manager.Name == "" {
		return errors.New("必须配置管理者智能体")
	}
	if c.Manager.Brokerage {
		return errors.New("管理者不能同时作为券商智能体")
	}
	seen := map[string]struct{}{c.Manager.Name: {}}
	brokerage := ""
	for _, def := range c.Agents {
		if def.Name == "" {
			return errors.New("智能体名称不能为空")
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("智能体 %s 重复定义", def.Name)
		}
		seen[def.Name] = struct{}{}
		if def.Brokerage {
			if brokerage != "" {
				return fmt.Errorf("券商智能体只能有一个: %s 与 %s", brokerage, def.Name)
			}
			brokerage = def.Name
		}
	}
	return nil
}

// Brokerage 返回券商智能体定义。
func (c Catalog) Brokerage() (Definition, bool) {
	for _, def := range c.Agents {
		if def.Brokerage {
			return def, true
		}
	}
	return Definition{}, false
}
