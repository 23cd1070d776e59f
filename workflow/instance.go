package workflow

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// WorkflowInstance 工作流实例entity,一条审批流的权威快照
// CurrentStep取值[0, len(DepartmentSequence)],等于len的时候必然是completed
type WorkflowInstance struct {
	WorkflowID         string
	DepartmentSequence []string
	CurrentStep        int
	Status             WorkflowStatus
	// Data 调用方自带的业务数据(title/priority等),转移过程中原样携带
	Data *JSONContext
	// History 只追加的审计记录,每个被接受的动作恰好追加一条
	History   []*TransitionRecord
	Version   int64
	CreatedAt int64
	UpdatedAt int64
}

// TransitionRecord 转移审计记录entity
type TransitionRecord struct {
	ID              string         `json:"id"`
	Action          WorkflowAction `json:"action"`
	Actor           string         `json:"actor,omitempty"`
	Comment         string         `json:"comment,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	FromStep        int            `json:"from_step"`
	ResultingStep   int            `json:"resulting_step"`
	FromDepartment  string         `json:"from_department,omitempty"`
	ToDepartment    string         `json:"to_department,omitempty"`
	ResultingStatus WorkflowStatus `json:"resulting_status"`
	CreatedAt       int64          `json:"created_at"`
}

// NewWorkflowInstance 创建初始快照: pending,step 0,空历史
// 部门序列必须非空,这里是唯一的入口校验点
func NewWorkflowInstance(workflowID string, departmentSequence []string, initialData map[string]any) (*WorkflowInstance, error) {
	if len(departmentSequence) == 0 {
		return nil, errors.WithMessage(ErrWorkflowParamInvalid, "department sequence cannot be empty")
	}
	for _, dept := range departmentSequence {
		if dept == "" {
			return nil, errors.WithMessage(ErrWorkflowParamInvalid, "department id cannot be empty")
		}
	}
	now := time.Now().Unix()
	seq := make([]string, len(departmentSequence))
	copy(seq, departmentSequence)
	return &WorkflowInstance{
		WorkflowID:         workflowID,
		DepartmentSequence: seq,
		CurrentStep:        0,
		Status:             WorkflowStatusPending,
		Data:               NewJSONContextFromMap(initialData),
		History:            make([]*TransitionRecord, 0),
		Version:            0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// TransitionInput 导出当前快照的判定输入
func (w *WorkflowInstance) TransitionInput() TransitionInput {
	return TransitionInput{
		CurrentStep: w.CurrentStep,
		SequenceLen: len(w.DepartmentSequence),
		Status:      w.Status,
	}
}

// CurrentDepartment 当前负责审批的部门,completed之后没有当前部门,返回空串
func (w *WorkflowInstance) CurrentDepartment() string {
	if w.CurrentStep >= 0 && w.CurrentStep < len(w.DepartmentSequence) {
		return w.DepartmentSequence[w.CurrentStep]
	}
	return ""
}

// NextDepartment 下一个部门,已经在最后一个部门或者已完成返回空串
func (w *WorkflowInstance) NextDepartment() string {
	nextStep := w.CurrentStep + 1
	if nextStep >= 0 && nextStep < len(w.DepartmentSequence) {
		return w.DepartmentSequence[nextStep]
	}
	return ""
}

// IsFinalStep 是否停在最后一个部门
func (w *WorkflowInstance) IsFinalStep() bool {
	return w.CurrentStep >= len(w.DepartmentSequence)-1
}

// ProgressPercentage 审批进度,completed恒为100
func (w *WorkflowInstance) ProgressPercentage() float64 {
	if len(w.DepartmentSequence) == 0 {
		return 0
	}
	if w.Status == WorkflowStatusCompleted {
		return 100.0
	}
	progress := float64(w.CurrentStep) / float64(len(w.DepartmentSequence)) * 100.0
	if progress > 100.0 {
		progress = 100.0
	}
	return progress
}

// LastTransition 最近一条审计记录,没有历史返回nil
func (w *WorkflowInstance) LastTransition() *TransitionRecord {
	if len(w.History) == 0 {
		return nil
	}
	return w.History[len(w.History)-1]
}

// AvailableActions 当前快照下合法的动作列表
func (w *WorkflowInstance) AvailableActions() []WorkflowAction {
	return AvailableActionsFor(w.TransitionInput())
}

// Clone 深拷贝快照,读接口返回拷贝,避免调用方改动污染存储内的快照
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	seq := make([]string, len(w.DepartmentSequence))
	copy(seq, w.DepartmentSequence)
	history := make([]*TransitionRecord, 0, len(w.History))
	for _, record := range w.History {
		recordCopy := *record
		history = append(history, &recordCopy)
	}
	var data *JSONContext
	if w.Data != nil {
		data = w.Data.Clone()
	} else {
		data = NewJSONContextFromMap(nil)
	}
	return &WorkflowInstance{
		WorkflowID:         w.WorkflowID,
		DepartmentSequence: seq,
		CurrentStep:        w.CurrentStep,
		Status:             w.Status,
		Data:               data,
		History:            history,
		Version:            w.Version,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}

// applyResult 基于判定结果生成新快照并追加审计记录,原快照不动
func (w *WorkflowInstance) applyResult(action WorkflowAction, params *TransitionParams, result *TransitionResult) *WorkflowInstance {
	if params == nil {
		params = &TransitionParams{}
	}
	next := w.Clone()
	record := &TransitionRecord{
		ID:              uuid.NewString(),
		Action:          action,
		Actor:           params.Actor,
		Comment:         params.Comment,
		Reason:          params.Reason,
		FromStep:        w.CurrentStep,
		ResultingStep:   result.Step,
		FromDepartment:  w.CurrentDepartment(),
		ResultingStatus: result.Status,
		CreatedAt:       time.Now().Unix(),
	}
	if result.Step >= 0 && result.Step < len(w.DepartmentSequence) {
		record.ToDepartment = w.DepartmentSequence[result.Step]
	}
	next.CurrentStep = result.Step
	next.Status = result.Status
	next.History = append(next.History, record)
	next.UpdatedAt = record.CreatedAt
	return next
}

// WorkflowStatusInfo 工作流状态概览,给看板/报表用
type WorkflowStatusInfo struct {
	WorkflowID         string            `json:"workflow_id"`
	Status             WorkflowStatus    `json:"status"`
	CurrentStep        int               `json:"current_step"`
	TotalSteps         int               `json:"total_steps"`
	CurrentDepartment  string            `json:"current_department,omitempty"`
	NextDepartment     string            `json:"next_department,omitempty"`
	IsFinalStep        bool              `json:"is_final_step"`
	ProgressPercentage float64           `json:"progress_percentage"`
	DepartmentSequence []string          `json:"department_sequence"`
	HistoryCount       int               `json:"history_count"`
	LastAction         *TransitionRecord `json:"last_action,omitempty"`
}

// StatusInfo 汇总快照的概览信息
func (w *WorkflowInstance) StatusInfo() *WorkflowStatusInfo {
	return &WorkflowStatusInfo{
		WorkflowID:         w.WorkflowID,
		Status:             w.Status,
		CurrentStep:        w.CurrentStep,
		TotalSteps:         len(w.DepartmentSequence),
		CurrentDepartment:  w.CurrentDepartment(),
		NextDepartment:     w.NextDepartment(),
		IsFinalStep:        w.IsFinalStep(),
		ProgressPercentage: w.ProgressPercentage(),
		DepartmentSequence: w.DepartmentSequence,
		HistoryCount:       len(w.History),
		LastAction:         w.LastTransition(),
	}
}
