package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/autoflow/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 📄 YAML 工作流定义
// =============================================================================

// ParseDefinitions 解析 YAML 工作流定义。文档可以是单个工作流，
// 也可以是带 workflows 列表的集合。未写 enabled 时默认启用。
func ParseDefinitions(data []byte) ([]Workflow, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, types.NewValidationError("invalid workflow yaml: %v", err)
	}
	if len(root.Content) == 0 {
		return nil, types.NewValidationError("workflow yaml is empty")
	}
	doc := root.Content[0]

	var nodes []*yaml.Node
	if list := mappingValue(doc, "workflows"); list != nil {
		if list.Kind != yaml.SequenceNode {
			return nil, types.NewValidationError("workflows must be a list")
		}
		nodes = list.Content
	} else {
		nodes = []*yaml.Node{doc}
	}

	out := make([]Workflow, 0, len(nodes))
	for i, node := range nodes {
		wf, err := decodeWorkflow(node)
		if err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i, err)
		}
		out = append(out, wf)
	}
	return out, nil
}

func decodeWorkflow(node *yaml.Node) (Workflow, error) {
	var wf Workflow
	if err := node.Decode(&wf); err != nil {
		return Workflow{}, types.NewValidationError("decode workflow: %v", err)
	}
	var flags struct {
		Enabled *bool `yaml:"enabled"`
	}
	if err := node.Decode(&flags); err != nil {
		return Workflow{}, types.NewValidationError("decode workflow: %v", err)
	}
	wf.Enabled = flags.Enabled == nil || *flags.Enabled
	return wf, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// ValidateDefinition 执行与注册时相同的校验
func ValidateDefinition(wf Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return types.NewValidationError("workflow %q has no name", wf.ID)
	}
	if err := validateSteps(wf.Steps); err != nil {
		return err
	}
	if wf.Schedule != "" {
		if _, err := parseSchedule(wf.Schedule); err != nil {
			return err
		}
	}
	switch wf.Status {
	case "", WorkflowActive, WorkflowPaused, WorkflowArchived:
	default:
		return types.NewValidationError("workflow %q has unknown status %q", wf.ID, wf.Status)
	}
	return nil
}

// LoadDefinitionFile 读取并校验单个定义文件
func LoadDefinitionFile(path string) ([]Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}
	wfs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, wf := range wfs {
		if err := ValidateDefinition(wf); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return wfs, nil
}

// LoadDefinitions 读取目录下所有 .yaml/.yml 文件，按文件名排序
func LoadDefinitions(dir string) ([]Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	var out []Workflow
	for _, f := range files {
		wfs, err := LoadDefinitionFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, wfs...)
	}
	return out, nil
}

// LoadDefinitions 从目录加载并注册工作流，返回注册数量
func (e *Engine) LoadDefinitions(ctx context.Context, dir string) (int, error) {
	wfs, err := LoadDefinitions(dir)
	if err != nil {
		return 0, err
	}
	for _, wf := range wfs {
		if _, err := e.RegisterWorkflow(ctx, wf); err != nil {
			return 0, fmt.Errorf("register workflow %s: %w", wf.Name, err)
		}
	}
	e.logger.Info("workflow definitions loaded", zap.String("dir", dir), zap.Int("count", len(wfs)))
	return len(wfs), nil
}
