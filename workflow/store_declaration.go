package workflow

import (
	"context"
)

// WorkflowStore 按workflow_id组织的持久化边界
// 不同id之间不允许共享任何锁,同一个id的写入靠版本CAS串行化
type WorkflowStore interface {
	// Get 读取最新已提交的快照,不存在返回ErrWorkflowNotFound
	// 读路径不加锁,永远不会看到写到一半的数据
	Get(ctx context.Context, workflowID string) (*WorkflowInstance, error)
	// Create 只插入,id冲突返回ErrWorkflowAlreadyExists
	Create(ctx context.Context, instance *WorkflowInstance) error
	// CompareAndSwap 版本比对写入,expectedVersion和存储内版本不一致返回ErrVersionConflict
	// 写入成功后存储内版本为expectedVersion+1,写入要么全部可见要么完全不可见
	CompareAndSwap(ctx context.Context, workflowID string, expectedVersion int64, instance *WorkflowInstance) error
	// Exists 判断工作流是否存在
	Exists(ctx context.Context, workflowID string) (bool, error)
	// QueryWorkflows 按条件查询快照列表
	// Page为nil或者IsNoLimit为true的时候不分页,返回全部命中结果
	QueryWorkflows(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowInstance, error)
	// CountWorkflows 按条件统计数量
	CountWorkflows(ctx context.Context, param *QueryWorkflowParams) (int64, error)
}

type QueryWorkflowParams struct {
	WorkflowID    *string  `json:"workflow_id"`
	StatusIn      []string `json:"status_in"`
	IDGreaterThan *int64   `json:"id_greater_than"`
	OrderbyIDAsc  *bool    `json:"orderby_id_asc"`
	Page          *Pager   `json:"page"`
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page"`
	Size      int64 `json:"size"`
}
