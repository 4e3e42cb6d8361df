package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"gopkg.in/yaml.v3"
)

//go:embed workflows.yaml
var defaultWorkflows []byte

// Workflows 审批流程定义：实体类型 → 审批级别
type Workflows struct {
	Workflows map[string]WorkflowDefinition `yaml:"workflows"`
}

type WorkflowDefinition struct {
	ApprovalLevels []engine.ApprovalLevel `yaml:"approval_levels"`
}

// LoadWorkflows 读取流程文件，path 为空时使用内置定义
func LoadWorkflows(path string) (*Workflows, error) {
	data := defaultWorkflows
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow file: %w", err)
		}
		data = b
	}
	return ParseWorkflows(data)
}

// ParseWorkflows 解析并校验流程定义
func ParseWorkflows(data []byte) (*Workflows, error) {
	var wf Workflows
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflows: %w", err)
	}
	for entityType, def := range wf.Workflows {
		sort.Slice(def.ApprovalLevels, func(i, j int) bool {
			return def.ApprovalLevels[i].Level < def.ApprovalLevels[j].Level
		})
		for i, lvl := range def.ApprovalLevels {
			if lvl.Level != i+1 {
				return nil, fmt.Errorf("workflow %s: approval levels must be numbered 1..n, got %d at position %d", entityType, lvl.Level, i+1)
			}
			if lvl.Role == "" {
				return nil, fmt.Errorf("workflow %s: level %d has no role", entityType, lvl.Level)
			}
		}
		wf.Workflows[entityType] = def
	}
	return &wf, nil
}

// Levels 返回实体类型的审批级别
func (w *Workflows) Levels(entityType string) []engine.ApprovalLevel {
	if w == nil {
		return nil
	}
	return w.Workflows[entityType].ApprovalLevels
}
