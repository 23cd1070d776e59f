package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// 辅助函数：替代 String 和 Int
func String(s string) *string { return &s }
func Int(i int) *int          { return &i }
func Bool(b bool) *bool       { return &b }

const (
	// 锁最大持有时间,每个动作都是一次快速的计算加落库,30秒绰绰有余
	workflowOpLockTime = 30 * time.Second
	// 同id锁竞争的有限重试,绝不无限等待
	maxLockRetry      = 3
	lockRetryInterval = 20 * time.Millisecond
	// CAS版本冲突的有限重试次数
	maxCASRetry = 3
)

// WorkflowServiceImpl 审批工作流服务
type WorkflowServiceImpl struct {
	store       WorkflowStore
	executeLock WorkflowLock
	templates   *TemplateRegistry
	// allowTerminalRollback 终止状态是否允许管理员回退,默认不允许
	allowTerminalRollback bool
}

type WorkflowServiceOption func(*WorkflowServiceImpl)

// WithTemplateRegistry 注入模板注册表,启用CreateWorkflowFromTemplate
func WithTemplateRegistry(registry *TemplateRegistry) WorkflowServiceOption {
	return func(s *WorkflowServiceImpl) {
		s.templates = registry
	}
}

// WithTerminalRollback 允许对completed/cancelled的工作流做管理员回退
func WithTerminalRollback(allowed bool) WorkflowServiceOption {
	return func(s *WorkflowServiceImpl) {
		s.allowTerminalRollback = allowed
	}
}

func NewWorkflowService(store WorkflowStore, executeLock WorkflowLock, opts ...WorkflowServiceOption) WorkflowService {
	s := &WorkflowServiceImpl{store: store, executeLock: executeLock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func workflowOpLockKey(workflowID string) string {
	return fmt.Sprintf("approval_workflow_op_%s", workflowID)
}

func (s *WorkflowServiceImpl) CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowInstance, error) {
	if req == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "CreateWorkflow failed, req is nil")
	}
	if err := validatorUtil.Struct(req); err != nil {
		if len(req.DepartmentSequence) == 0 {
			// 空部门序列单独给一个明确的信息,这是最常见的调用错误
			return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflow failed, department sequence cannot be empty, workflowID: %s", req.WorkflowID)
		}
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflow failed, req: %v, err: %v", req, err)
	}
	instance, err := NewWorkflowInstance(req.WorkflowID, req.DepartmentSequence, req.InitialData)
	if err != nil {
		return nil, errors.WithMessagef(err, "NewWorkflowInstance failed, workflowID: %s", req.WorkflowID)
	}
	if err := s.store.Create(ctx, instance); err != nil {
		return nil, errors.WithMessagef(err, "Create failed, workflowID: %s", req.WorkflowID)
	}
	return instance, nil
}

func (s *WorkflowServiceImpl) CreateWorkflowFromTemplate(ctx context.Context, req *CreateWorkflowFromTemplateReq) (*WorkflowInstance, error) {
	if req == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "CreateWorkflowFromTemplate failed, req is nil")
	}
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflowFromTemplate failed, req: %v, err: %v", req, err)
	}
	if s.templates == nil {
		return nil, errors.WithMessage(ErrWorkflowTemplateNotFound, "no template registry configured")
	}
	template, err := s.templates.Get(req.Template)
	if err != nil {
		return nil, errors.WithMessagef(err, "template lookup failed, template: %s", req.Template)
	}
	return s.CreateWorkflow(ctx, &CreateWorkflowReq{
		WorkflowID:         req.WorkflowID,
		DepartmentSequence: template.DepartmentSequence,
		InitialData:        req.InitialData,
	})
}

func (s *WorkflowServiceImpl) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	if workflowID == "" {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "GetWorkflow failed, workflowID is empty")
	}
	instance, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetWorkflow failed, workflowID: %s", workflowID)
	}
	return instance, nil
}

func (s *WorkflowServiceImpl) GetCurrentState(ctx context.Context, workflowID string) (*WorkflowState, error) {
	instance, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return newWorkflowState(instance), nil
}

func (s *WorkflowServiceImpl) GetStatusInfo(ctx context.Context, workflowID string) (*WorkflowStatusInfo, error) {
	instance, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return instance.StatusInfo(), nil
}

func (s *WorkflowServiceImpl) ExecuteAction(ctx context.Context, req *ExecuteActionReq) (*ExecuteActionResult, error) {
	if req == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "ExecuteAction failed, req is nil")
	}
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "ExecuteAction failed, req: %v, err: %v", req, err)
	}
	params := parseTransitionParams(req.Context)
	updated, err := s.mutateWorkflow(ctx, req.WorkflowID, func(instance *WorkflowInstance) (*WorkflowInstance, error) {
		result, err := ApplyTransition(instance.TransitionInput(), req.Action, params)
		if err != nil {
			return nil, errors.WithMessagef(err, "ApplyTransition failed, workflowID: %s, action: %s", req.WorkflowID, req.Action)
		}
		return instance.applyResult(req.Action, params, result), nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ExecuteAction failed, workflowID: %s, action: %s", req.WorkflowID, req.Action)
	}
	return &ExecuteActionResult{Success: true, State: newWorkflowState(updated)}, nil
}

func (s *WorkflowServiceImpl) GetAvailableActions(ctx context.Context, workflowID string) ([]WorkflowAction, error) {
	instance, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return instance.AvailableActions(), nil
}

func (s *WorkflowServiceImpl) RollbackToStep(ctx context.Context, req *RollbackToStepReq) (*ExecuteActionResult, error) {
	if req == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "RollbackToStep failed, req is nil")
	}
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "RollbackToStep failed, req: %v, err: %v", req, err)
	}
	params := &TransitionParams{
		Actor:      req.Operator,
		Reason:     req.Reason,
		TargetStep: Int(req.TargetStep),
	}
	updated, err := s.mutateWorkflow(ctx, req.WorkflowID, func(instance *WorkflowInstance) (*WorkflowInstance, error) {
		if IsTerminalWorkflowStatus(instance.Status) && !s.allowTerminalRollback {
			return nil, errors.WithMessagef(ErrWorkflowClosed, "workflow is %s, rollback not allowed", instance.Status)
		}
		result, err := ApplyRollback(instance.TransitionInput(), params.TargetStep)
		if err != nil {
			return nil, errors.WithMessagef(err, "ApplyRollback failed, workflowID: %s, step: %d", req.WorkflowID, req.TargetStep)
		}
		return instance.applyResult(WorkflowActionRollback, params, result), nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "RollbackToStep failed, workflowID: %s, step: %d", req.WorkflowID, req.TargetStep)
	}
	return &ExecuteActionResult{Success: true, State: newWorkflowState(updated)}, nil
}

func (s *WorkflowServiceImpl) WorkflowExists(ctx context.Context, workflowID string) (bool, error) {
	if workflowID == "" {
		return false, errors.Wrap(ErrWorkflowParamInvalid, "WorkflowExists failed, workflowID is empty")
	}
	exists, err := s.store.Exists(ctx, workflowID)
	if err != nil {
		return false, errors.WithMessagef(err, "WorkflowExists failed, workflowID: %s", workflowID)
	}
	return exists, nil
}

func (s *WorkflowServiceImpl) QueryWorkflows(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowInstance, error) {
	if param == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "QueryWorkflows failed, param is nil")
	}
	instances, err := s.store.QueryWorkflows(ctx, param)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflows failed, param: %v", param)
	}
	return instances, nil
}

func (s *WorkflowServiceImpl) CountWorkflows(ctx context.Context, param *QueryWorkflowParams) (int64, error) {
	if param == nil {
		return 0, errors.Wrap(ErrWorkflowParamInvalid, "CountWorkflows failed, param is nil")
	}
	count, err := s.store.CountWorkflows(ctx, param)
	if err != nil {
		return 0, errors.WithMessagef(err, "CountWorkflows failed, param: %v", param)
	}
	return count, nil
}

// mutateWorkflow 所有变更操作的统一通道: 同id锁 + 读-算-CAS写
// 锁竞争和版本冲突都只做有限次重试,任何一条路径都不会无限挂起
// apply是纯计算,失败属于调用方错误,绝不重试
func (s *WorkflowServiceImpl) mutateWorkflow(ctx context.Context, workflowID string,
	apply func(*WorkflowInstance) (*WorkflowInstance, error)) (*WorkflowInstance, error) {
	var updated *WorkflowInstance
	err := s.synchronized(ctx, workflowOpLockKey(workflowID), func(ctx context.Context) error {
		for attempt := 0; attempt < maxCASRetry; attempt++ {
			current, err := s.store.Get(ctx, workflowID)
			if err != nil {
				return errors.WithMessagef(err, "Get failed, workflowID: %s", workflowID)
			}
			next, err := apply(current)
			if err != nil {
				return err
			}
			err = s.store.CompareAndSwap(ctx, workflowID, current.Version, next)
			if err == nil {
				updated = next
				return nil
			}
			if errors.Is(errors.Cause(err), ErrVersionConflict) {
				// 本地锁拦不住别的进程,重新加载最新快照再算一次
				slog.WarnContext(ctx, fmt.Sprintf("CompareAndSwap conflict, workflowID: %s, attempt: %d", workflowID, attempt+1))
				continue
			}
			return errors.WithMessagef(err, "CompareAndSwap failed, workflowID: %s", workflowID)
		}
		return errors.WithMessagef(ErrVersionConflict, "workflow %s keeps conflicting after %d attempts", workflowID, maxCASRetry)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// synchronized 非阻塞锁的有限重试包装,拿不到锁短暂退避后再试
func (s *WorkflowServiceImpl) synchronized(ctx context.Context, key string, f func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxLockRetry; attempt++ {
		err = s.executeLock.NonBlockingSynchronized(ctx, key, workflowOpLockTime, f)
		if err == nil || !errors.Is(errors.Cause(err), LockFailedError) {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ErrPersistence, "synchronized cancelled, key: %s, err: %v", key, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
	return errors.WithMessagef(err, "synchronized failed after %d attempts, key: %s", maxLockRetry, key)
}

// parseTransitionParams 从调用方的context里面解析动作参数
func parseTransitionParams(actionContext map[string]any) *TransitionParams {
	jsonContext := NewJSONContextFromMap(actionContext)
	params := &TransitionParams{}
	if actor, ok := jsonContext.GetString(ActionContextKeyActor); ok {
		params.Actor = actor
	}
	if comment, ok := jsonContext.GetString(ActionContextKeyComment); ok {
		params.Comment = comment
	}
	if reason, ok := jsonContext.GetString(ActionContextKeyReason); ok {
		params.Reason = reason
	}
	if targetStep, ok := jsonContext.GetInt(ActionContextKeyTargetStep); ok {
		params.TargetStep = Int(targetStep)
	}
	return params
}

func newWorkflowState(instance *WorkflowInstance) *WorkflowState {
	data := instance.Data
	if data == nil {
		data = NewJSONContextFromMap(nil)
	}
	return &WorkflowState{
		WorkflowID:         instance.WorkflowID,
		CurrentStep:        instance.CurrentStep,
		Status:             instance.Status,
		DepartmentSequence: instance.DepartmentSequence,
		Data:               data.ToMap(),
		History:            instance.History,
	}
}
