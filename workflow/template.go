package workflow

import (
	"sync"

	"github.com/pkg/errors"
)

// WorkflowTemplate 工作流模板,一份命名的部门序列
// 例如标准审批流: engineering -> quality -> compliance
type WorkflowTemplate struct {
	ID                 string   `json:"id" validate:"required"`
	Name               string   `json:"name"`
	DepartmentSequence []string `json:"department_sequence" validate:"required,min=1,dive,required"`
}

// TemplateRegistry 模板注册表
// 显式构造并注入到服务里面,不做包级单例,也不做任何动态加载
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*WorkflowTemplate
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]*WorkflowTemplate),
	}
}

// Register 注册模板,重复ID返回错误
func (r *TemplateRegistry) Register(template *WorkflowTemplate) error {
	if template == nil {
		return errors.New("template is nil")
	}
	if err := validatorUtil.Struct(template); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "Register failed, template: %v, err: %v", template, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[template.ID]; ok {
		return errors.Errorf("template already registered, id: %s", template.ID)
	}
	r.templates[template.ID] = template
	return nil
}

// Get 按ID查找模板
func (r *TemplateRegistry) Get(templateID string) (*WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	template, ok := r.templates[templateID]
	if !ok {
		return nil, errors.WithMessagef(ErrWorkflowTemplateNotFound, "template %s not found", templateID)
	}
	return template, nil
}

// List 返回所有已注册的模板ID
func (r *TemplateRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	return ids
}
