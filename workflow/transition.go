package workflow

import "github.com/pkg/errors"

// TransitionInput 转移判定的输入,只携带判定需要的最小快照信息
// 这里是纯函数集合,不做任何I/O,不依赖任何共享状态,方便单测和复用
type TransitionInput struct {
	CurrentStep int
	SequenceLen int
	Status      WorkflowStatus
}

// TransitionParams 动作参数,从调用方的context里面解析出来
type TransitionParams struct {
	Actor      string
	Comment    string
	Reason     string
	TargetStep *int
}

// TransitionResult 转移判定的输出,只有落点step和落点status
type TransitionResult struct {
	Step   int
	Status WorkflowStatus
}

// isApprovableStatus approve/reject在这些状态下合法
// rejected的工作流可以重新approve推进(重新提交语义),
// escalated由外部审批模块设置,引擎按非终止状态处理
func isApprovableStatus(status WorkflowStatus) bool {
	switch status {
	case WorkflowStatusPending, WorkflowStatusInProgress, WorkflowStatusRejected, WorkflowStatusEscalated:
		return true
	}
	return false
}

/*
*
  - @description: 执行一次状态转移判定,不落库,不改入参
    approve: current_step+1,走到len(sequence)即completed,最后一步不特殊处理
    reject: 必须带target_step,且严格回退 0 <= target_step < current_step
    cancel: 任何非终止状态合法,step不变
    rollback: 管理员回退,0 <= target_step < len(sequence),状态重置为pending
    request_info: 只做标注,step和status都不变
  - @param in TransitionInput 当前快照
  - @param action WorkflowAction 动作
  - @param params *TransitionParams 动作参数,可以为nil
  - @return *TransitionResult, error
*/
func ApplyTransition(in TransitionInput, action WorkflowAction, params *TransitionParams) (*TransitionResult, error) {
	if IsTerminalWorkflowStatus(in.Status) {
		return nil, errors.WithMessagef(ErrWorkflowClosed, "workflow is %s, no action accepted", in.Status)
	}
	if params == nil {
		params = &TransitionParams{}
	}
	switch action {
	case WorkflowActionApprove:
		return applyApprove(in)
	case WorkflowActionReject:
		return applyReject(in, params.TargetStep)
	case WorkflowActionCancel:
		return &TransitionResult{Step: in.CurrentStep, Status: WorkflowStatusCancelled}, nil
	case WorkflowActionRollback:
		return ApplyRollback(in, params.TargetStep)
	case WorkflowActionRequestInfo:
		return &TransitionResult{Step: in.CurrentStep, Status: in.Status}, nil
	}
	return nil, errors.WithMessagef(ErrInvalidAction, "unknown action: %s", action)
}

func applyApprove(in TransitionInput) (*TransitionResult, error) {
	if !isApprovableStatus(in.Status) {
		return nil, errors.WithMessagef(ErrInvalidAction, "approve not allowed in status %s", in.Status)
	}
	nextStep := in.CurrentStep + 1
	if nextStep >= in.SequenceLen {
		// 最后一个部门通过,正常完成路径
		return &TransitionResult{Step: in.SequenceLen, Status: WorkflowStatusCompleted}, nil
	}
	return &TransitionResult{Step: nextStep, Status: WorkflowStatusInProgress}, nil
}

func applyReject(in TransitionInput, targetStep *int) (*TransitionResult, error) {
	if !isApprovableStatus(in.Status) {
		return nil, errors.WithMessagef(ErrInvalidAction, "reject not allowed in status %s", in.Status)
	}
	if targetStep == nil {
		return nil, errors.WithMessage(ErrInvalidStep, "reject requires target_step")
	}
	// 只允许严格回退,退回到当前步骤或者更后面都是非法的
	if *targetStep < 0 || *targetStep >= in.CurrentStep {
		return nil, errors.WithMessagef(ErrInvalidStep,
			"invalid target step %d from current step %d", *targetStep, in.CurrentStep)
	}
	return &TransitionResult{Step: *targetStep, Status: WorkflowStatusRejected}, nil
}

/*
*
  - @description: 管理员回退判定,只做边界检查,不检查终止状态
    终止状态是否允许回退是服务层的策略开关,纯函数不掺和
  - @param in TransitionInput 当前快照
  - @param targetStep *int 回退目标步骤
  - @return *TransitionResult, error
*/
func ApplyRollback(in TransitionInput, targetStep *int) (*TransitionResult, error) {
	if targetStep == nil {
		return nil, errors.WithMessage(ErrInvalidStep, "rollback requires target_step")
	}
	if *targetStep < 0 || *targetStep >= in.SequenceLen {
		return nil, errors.WithMessagef(ErrInvalidStep,
			"rollback target step %d out of range [0, %d)", *targetStep, in.SequenceLen)
	}
	return &TransitionResult{Step: *targetStep, Status: WorkflowStatusPending}, nil
}

// AvailableActionsFor 根据快照推导当前合法的动作列表
// 终止状态没有任何可用动作; reject只有在前面还有部门可退的时候才出现
func AvailableActionsFor(in TransitionInput) []WorkflowAction {
	if IsTerminalWorkflowStatus(in.Status) {
		return []WorkflowAction{}
	}
	actions := []WorkflowAction{WorkflowActionApprove, WorkflowActionCancel}
	if in.CurrentStep > 0 {
		actions = append(actions, WorkflowActionReject)
	}
	actions = append(actions, WorkflowActionRequestInfo)
	return actions
}
