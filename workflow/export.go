package workflow

import "context"

type WorkflowService interface {
	/**
	 * @description: 创建工作流,初始状态pending,停在第0个部门
	 *				 部门序列必须非空,workflow_id重复会返回ErrWorkflowAlreadyExists
	 * @param ctx context.Context
	 * @param req *CreateWorkflowReq
	 * @return *WorkflowInstance, error
	 */
	CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowInstance, error)
	/**
	 * @description: 按模板创建工作流,部门序列取自注册表里面的模板
	 *				 没有配置模板注册表或者模板不存在返回ErrWorkflowTemplateNotFound
	 * @param ctx context.Context
	 * @param req *CreateWorkflowFromTemplateReq
	 * @return *WorkflowInstance, error
	 */
	CreateWorkflowFromTemplate(ctx context.Context, req *CreateWorkflowFromTemplateReq) (*WorkflowInstance, error)
	/**
	 * @description: 读取完整快照,不存在返回ErrWorkflowNotFound
	 */
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowInstance, error)
	/**
	 * @description: 读取当前状态(step/status/history/data),读路径不加锁
	 */
	GetCurrentState(ctx context.Context, workflowID string) (*WorkflowState, error)
	/**
	 * @description: 读取状态概览,给看板和报表用
	 *				 包含当前/下一个部门,进度百分比,最近一次动作
	 */
	GetStatusInfo(ctx context.Context, workflowID string) (*WorkflowStatusInfo, error)
	/**
	 * @description: 执行一个审批动作(approve/reject/cancel/request_info)
	 *				 同一个工作流同一时间只有一个写入方,不同工作流完全并行
	 *				 reject必须在context里面带target_step,cancel的reason由调用模块负责校验
	 * @param ctx context.Context
	 * @param req *ExecuteActionReq
	 * @return *ExecuteActionResult, error
	 */
	ExecuteAction(ctx context.Context, req *ExecuteActionReq) (*ExecuteActionResult, error)
	/**
	 * @description: 当前快照下合法的动作列表,终止状态返回空列表
	 */
	GetAvailableActions(ctx context.Context, workflowID string) ([]WorkflowAction, error)
	/**
	 * @description: 管理员回退到指定步骤,状态重置为pending
	 *				 无论回退到哪一步都会追加一条rollback审计记录
	 *				 终止状态默认不允许回退,可以用WithTerminalRollback打开
	 * @param ctx context.Context
	 * @param req *RollbackToStepReq
	 * @return *ExecuteActionResult, error
	 */
	RollbackToStep(ctx context.Context, req *RollbackToStepReq) (*ExecuteActionResult, error)
	/**
	 * @description: 判断工作流是否存在
	 */
	WorkflowExists(ctx context.Context, workflowID string) (bool, error)
	/**
	 * @description: 按条件查询工作流快照列表
	 */
	QueryWorkflows(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowInstance, error)
	/**
	 * @description: 按条件统计工作流数量
	 */
	CountWorkflows(ctx context.Context, param *QueryWorkflowParams) (int64, error)
}

type CreateWorkflowReq struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	// DepartmentSequence 部门审批顺序,创建之后不可变
	DepartmentSequence []string `json:"department_sequence" validate:"required,min=1,dive,required"`
	// InitialData 业务数据(title/priority等),引擎原样携带,不参与转移判定
	InitialData map[string]any `json:"initial_data"`
}

type CreateWorkflowFromTemplateReq struct {
	WorkflowID  string         `json:"workflow_id" validate:"required"`
	Template    string         `json:"template" validate:"required"`
	InitialData map[string]any `json:"initial_data"`
}

type ExecuteActionReq struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Action     WorkflowAction `json:"action" validate:"required,oneof=approve reject cancel request_info"`
	// Context 动作上下文: actor/comment/reason/target_step
	Context map[string]any `json:"context"`
}

type RollbackToStepReq struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	TargetStep int    `json:"target_step" validate:"gte=0"`
	Operator   string `json:"operator"`
	Reason     string `json:"reason"`
}

// WorkflowState 当前状态视图,ExecuteAction和GetCurrentState的返回载体
type WorkflowState struct {
	WorkflowID         string              `json:"workflow_id"`
	CurrentStep        int                 `json:"current_step"`
	Status             WorkflowStatus      `json:"status"`
	DepartmentSequence []string            `json:"department_sequence"`
	Data               map[string]any      `json:"data"`
	History            []*TransitionRecord `json:"history"`
}

type ExecuteActionResult struct {
	Success bool           `json:"success"`
	State   *WorkflowState `json:"state"`
}
