package tests

import (
	"context"
	"testing"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, service workflow.WorkflowService, workflowID string, sequence []string) {
	t.Helper()
	_, err := service.CreateWorkflow(context.Background(), &workflow.CreateWorkflowReq{
		WorkflowID:         workflowID,
		DepartmentSequence: sequence,
	})
	require.NoError(t, err)
}

func mustApprove(t *testing.T, service workflow.WorkflowService, workflowID string, actor string) *workflow.WorkflowState {
	t.Helper()
	result, err := service.ExecuteAction(context.Background(), &workflow.ExecuteActionReq{
		WorkflowID: workflowID,
		Action:     workflow.WorkflowActionApprove,
		Context:    map[string]any{"actor": actor},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	return result.State
}

// TestRejectWorkflow 测试驳回
func TestRejectWorkflow(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	t.Run("驳回到更早的步骤", func(t *testing.T) {
		mustCreate(t, service, "RJ-001", []string{"A", "B", "C"})
		mustApprove(t, service, "RJ-001", "zhangsan")
		mustApprove(t, service, "RJ-001", "lisi")

		result, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
			WorkflowID: "RJ-001",
			Action:     workflow.WorkflowActionReject,
			Context: map[string]any{
				"actor":       "wangwu",
				"comment":     "材料不齐,退回第一步",
				"target_step": 0,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.State.CurrentStep)
		assert.Equal(t, workflow.WorkflowStatusRejected, result.State.Status)
		require.Len(t, result.State.History, 3)
		assert.Equal(t, workflow.WorkflowActionReject, result.State.History[2].Action)
		assert.Equal(t, "材料不齐,退回第一步", result.State.History[2].Comment)
	})

	t.Run("被驳回之后可以重新走审批", func(t *testing.T) {
		state := mustApprove(t, service, "RJ-001", "zhangsan")
		assert.Equal(t, 1, state.CurrentStep)
		assert.Equal(t, workflow.WorkflowStatusInProgress, state.Status)
	})

	t.Run("不带target_step的驳回非法", func(t *testing.T) {
		mustCreate(t, service, "RJ-002", []string{"A", "B"})
		mustApprove(t, service, "RJ-002", "zhangsan")

		_, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
			WorkflowID: "RJ-002",
			Action:     workflow.WorkflowActionReject,
			Context:    map[string]any{"actor": "lisi"},
		})
		assert.ErrorIs(t, err, workflow.ErrInvalidStep)
	})

	t.Run("驳回到当前或之后的步骤非法", func(t *testing.T) {
		for _, targetStep := range []int{1, 2, -1} {
			_, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
				WorkflowID: "RJ-002",
				Action:     workflow.WorkflowActionReject,
				Context:    map[string]any{"actor": "lisi", "target_step": targetStep},
			})
			assert.ErrorIs(t, err, workflow.ErrInvalidStep)
		}
		// 非法驳回不会留下任何痕迹
		state, err := service.GetCurrentState(ctx, "RJ-002")
		require.NoError(t, err)
		assert.Equal(t, 1, state.CurrentStep)
		assert.Len(t, state.History, 1)
	})

	t.Run("第0步没有可驳回的目标", func(t *testing.T) {
		mustCreate(t, service, "RJ-003", []string{"A", "B"})
		_, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
			WorkflowID: "RJ-003",
			Action:     workflow.WorkflowActionReject,
			Context:    map[string]any{"target_step": 0},
		})
		assert.ErrorIs(t, err, workflow.ErrInvalidStep)
	})
}

// TestRequestInfoAction 测试补充材料动作
func TestRequestInfoAction(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	mustCreate(t, service, "RI-001", []string{"A", "B"})
	mustApprove(t, service, "RI-001", "zhangsan")

	result, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
		WorkflowID: "RI-001",
		Action:     workflow.WorkflowActionRequestInfo,
		Context:    map[string]any{"actor": "lisi", "comment": "请补充发票"},
	})
	require.NoError(t, err)

	// 步骤和状态都不变,只追加审计记录
	assert.Equal(t, 1, result.State.CurrentStep)
	assert.Equal(t, workflow.WorkflowStatusInProgress, result.State.Status)
	require.Len(t, result.State.History, 2)
	assert.Equal(t, workflow.WorkflowActionRequestInfo, result.State.History[1].Action)
}

// TestCancelAndClosedWorkflow 测试取消和终止态保护
func TestCancelAndClosedWorkflow(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	mustCreate(t, service, "CL-001", []string{"A", "B"})
	result, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
		WorkflowID: "CL-001",
		Action:     workflow.WorkflowActionCancel,
		Context:    map[string]any{"actor": "zhangsan", "reason": "需求变更"},
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowStatusCancelled, result.State.Status)
	assert.Equal(t, 0, result.State.CurrentStep)
	assert.Equal(t, "需求变更", result.State.History[0].Reason)

	t.Run("终止之后任何动作都被拒绝", func(t *testing.T) {
		for _, action := range []workflow.WorkflowAction{
			workflow.WorkflowActionApprove,
			workflow.WorkflowActionReject,
			workflow.WorkflowActionCancel,
			workflow.WorkflowActionRequestInfo,
		} {
			_, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
				WorkflowID: "CL-001",
				Action:     action,
				Context:    map[string]any{"target_step": 0},
			})
			assert.ErrorIs(t, err, workflow.ErrWorkflowClosed, "action %s", action)
		}
	})

	t.Run("终止之后可用动作为空", func(t *testing.T) {
		actions, err := service.GetAvailableActions(ctx, "CL-001")
		require.NoError(t, err)
		assert.Empty(t, actions)
	})
}

// TestAvailableActions 测试可用动作列表
func TestAvailableActions(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	mustCreate(t, service, "AA-001", []string{"A", "B"})

	t.Run("第0步没有reject", func(t *testing.T) {
		actions, err := service.GetAvailableActions(ctx, "AA-001")
		require.NoError(t, err)
		assert.Contains(t, actions, workflow.WorkflowActionApprove)
		assert.Contains(t, actions, workflow.WorkflowActionCancel)
		assert.Contains(t, actions, workflow.WorkflowActionRequestInfo)
		assert.NotContains(t, actions, workflow.WorkflowActionReject)
	})

	t.Run("往后走一步之后有reject", func(t *testing.T) {
		mustApprove(t, service, "AA-001", "zhangsan")
		actions, err := service.GetAvailableActions(ctx, "AA-001")
		require.NoError(t, err)
		assert.Contains(t, actions, workflow.WorkflowActionReject)
	})
}

// TestRollbackToStep 测试管理员回退
func TestRollbackToStep(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	mustCreate(t, service, "RB-001", []string{"A", "B", "C"})
	mustApprove(t, service, "RB-001", "zhangsan")
	mustApprove(t, service, "RB-001", "lisi")

	t.Run("回退会重置为pending并记一条rollback", func(t *testing.T) {
		result, err := service.RollbackToStep(ctx, &workflow.RollbackToStepReq{
			WorkflowID: "RB-001",
			TargetStep: 1,
			Operator:   "admin",
			Reason:     "质量部门需要重审",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.State.CurrentStep)
		assert.Equal(t, workflow.WorkflowStatusPending, result.State.Status)
		require.Len(t, result.State.History, 3)
		record := result.State.History[2]
		assert.Equal(t, workflow.WorkflowActionRollback, record.Action)
		assert.Equal(t, "admin", record.Actor)
		assert.Equal(t, "质量部门需要重审", record.Reason)
	})

	t.Run("回退到当前步骤也合法,同样记一条", func(t *testing.T) {
		result, err := service.RollbackToStep(ctx, &workflow.RollbackToStepReq{
			WorkflowID: "RB-001",
			TargetStep: 1,
			Operator:   "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.State.CurrentStep)
		assert.Len(t, result.State.History, 4)
	})

	t.Run("越界的目标步骤非法", func(t *testing.T) {
		_, err := service.RollbackToStep(ctx, &workflow.RollbackToStepReq{
			WorkflowID: "RB-001",
			TargetStep: 3,
		})
		assert.ErrorIs(t, err, workflow.ErrInvalidStep)
	})

	t.Run("rollback不能走ExecuteAction", func(t *testing.T) {
		_, err := service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
			WorkflowID: "RB-001",
			Action:     workflow.WorkflowActionRollback,
			Context:    map[string]any{"target_step": 0},
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)
	})
}

// TestTerminalRollback 测试终止态回退开关
func TestTerminalRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("默认不允许回退已完成的工作流", func(t *testing.T) {
		service := setupTestService(t)
		mustCreate(t, service, "TR-001", []string{"A"})
		state := mustApprove(t, service, "TR-001", "zhangsan")
		require.Equal(t, workflow.WorkflowStatusCompleted, state.Status)

		_, err := service.RollbackToStep(ctx, &workflow.RollbackToStepReq{
			WorkflowID: "TR-001",
			TargetStep: 0,
			Operator:   "admin",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowClosed)
	})

	t.Run("WithTerminalRollback打开之后可以重新激活", func(t *testing.T) {
		service := setupTestService(t, workflow.WithTerminalRollback(true))
		mustCreate(t, service, "TR-002", []string{"A"})
		state := mustApprove(t, service, "TR-002", "zhangsan")
		require.Equal(t, workflow.WorkflowStatusCompleted, state.Status)

		result, err := service.RollbackToStep(ctx, &workflow.RollbackToStepReq{
			WorkflowID: "TR-002",
			TargetStep: 0,
			Operator:   "admin",
			Reason:     "审批结论有误",
		})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowStatusPending, result.State.Status)
		assert.Equal(t, 0, result.State.CurrentStep)

		// 重新激活之后可以继续审批
		state = mustApprove(t, service, "TR-002", "lisi")
		assert.Equal(t, workflow.WorkflowStatusCompleted, state.Status)
	})
}
