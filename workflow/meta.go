package workflow

import "github.com/pkg/errors"

var (
	ErrWorkflowNotFound         = errors.New("workflow not found")
	ErrWorkflowAlreadyExists    = errors.New("workflow already exists")
	ErrWorkflowTemplateNotFound = errors.New("workflow template not found")
	// ErrInvalidAction: 当前状态下不允许执行这个动作
	// 场景&应用: 调用方传了一个当前状态不合法的action,属于调用方错误,内部不重试
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidStep: 目标步骤越界或者不满足回退规则
	// 场景&应用: reject的target_step不在[0, current_step)内,rollback的step越界
	ErrInvalidStep = errors.New("invalid step")
	// ErrWorkflowClosed: 工作流已经终止(completed/cancelled),不接受任何变更动作
	ErrWorkflowClosed = errors.New("workflow closed")
	// ErrWorkflowParamInvalid 参数校验失败,validator错误的统一包装
	ErrWorkflowParamInvalid = errors.New("workflow param invalid")
	// ErrPersistence: 存储层错误的统一包装,底层的db/网络错误不允许裸露给调用方
	// 调用方backoff后可以重试
	ErrPersistence = errors.New("workflow persistence error")
	// ErrVersionConflict: 乐观锁版本冲突,同一个工作流有并发写入
	// 服务层会在有限次数内重新加载重试,一般不会透传给调用方
	ErrVersionConflict = errors.New("workflow version conflict")

	LockFailedError        = errors.New("lock failed")
	LockFailedTimeOutError = errors.New("wait time out")
)

type WorkflowStatus = string

const (
	// 初始状态,刚创建,停在第0个部门
	WorkflowStatusPending WorkflowStatus = "pending"
	// 审批中,至少通过了一个部门
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	// 被驳回,退回到了更早的部门,可以重新审批
	WorkflowStatusRejected WorkflowStatus = "rejected"
	// 升级处理,由外部审批模块设置,引擎本身不会产生这个状态
	WorkflowStatusEscalated WorkflowStatus = "escalated"
	// 取消, 工作流终止状态, 不再接受任何变更
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
	// 完成, 工作流终止状态, 所有部门都审批通过
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// IsTerminalWorkflowStatus 终止状态判断,终止状态不接受任何变更动作
func IsTerminalWorkflowStatus(status WorkflowStatus) bool {
	return status == WorkflowStatusCompleted || status == WorkflowStatusCancelled
}

func GetWorkflowStatusText(status WorkflowStatus) string {
	switch status {
	case WorkflowStatusPending:
		return "待审批"
	case WorkflowStatusInProgress:
		return "审批中"
	case WorkflowStatusRejected:
		return "已驳回"
	case WorkflowStatusEscalated:
		return "已升级"
	case WorkflowStatusCancelled:
		return "已取消"
	case WorkflowStatusCompleted:
		return "已完成"
	}
	return "未知"
}

type WorkflowAction = string

const (
	WorkflowActionApprove WorkflowAction = "approve"
	WorkflowActionReject  WorkflowAction = "reject"
	WorkflowActionCancel  WorkflowAction = "cancel"
	// 管理员回退,和reject区分开,审计上两种动作含义不一样
	WorkflowActionRollback WorkflowAction = "rollback"
	// 补充材料请求,只追加历史记录,不改变step和status
	WorkflowActionRequestInfo WorkflowAction = "request_info"
)

// ActionContextKey 动作上下文key,用于从ExecuteAction的context里面取值
type ActionContextKey = string

const (
	ActionContextKeyActor      ActionContextKey = "actor"
	ActionContextKeyComment    ActionContextKey = "comment"
	ActionContextKeyReason     ActionContextKey = "reason"
	ActionContextKeyTargetStep ActionContextKey = "target_step"
)

// IsRetryableError 判断错误是否可以重试
// 只有存储层错误和锁竞争失败可以重试,
// 其余的都是调用方/业务错误,重试多少次都不会成功
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	if errors.Is(causeErr, ErrPersistence) ||
		errors.Is(causeErr, ErrVersionConflict) ||
		errors.Is(causeErr, LockFailedError) ||
		errors.Is(causeErr, LockFailedTimeOutError) {
		return true
	}
	return false
}
