// Package workflow 提供顺序审批工作流引擎。
//
// 这是一个轻量级的 Go 审批流引擎：一个工作项沿着一条有序的部门序列逐级审批，
// 每次转移都会留下审计记录，并且随时可以查询当前合法的动作列表。
//
// 主要特性：
//   - 纯函数转移判定：approve/reject/cancel/rollback/request_info 的合法性
//     判断不依赖任何 I/O，可以独立测试
//   - 完整审计：每个被接受的动作恰好追加一条转移记录，历史只增不减
//   - 并发安全：同一个工作流的变更互斥（本地锁或 Redis 分布式锁 + 版本 CAS），
//     不同工作流完全并行，互不阻塞
//   - 数据持久化：支持 GORM（MySQL、PostgreSQL、SQLite）和纯内存两种存储
//   - 模板支持：可以把常用的部门序列注册成模板，按模板创建工作流
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/approval-workflow/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	func main() {
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("approval.db"), &gorm.Config{})
//	    db.AutoMigrate(&workflow.WorkflowInstancePo{})
//
//	    // 2. 创建工作流服务
//	    store := workflow.NewGormWorkflowStore(db)
//	    lock := workflow.NewLocalWorkflowLock()
//	    service := workflow.NewWorkflowService(store, lock)
//
//	    // 3. 创建工作流实例
//	    ctx := context.Background()
//	    service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
//	        WorkflowID:         "WO-2024-001",
//	        DepartmentSequence: []string{"engineering", "quality", "compliance"},
//	        InitialData:        map[string]any{"title": "液压件更换", "priority": "urgent"},
//	    })
//
//	    // 4. 执行审批动作
//	    service.ExecuteAction(ctx, &workflow.ExecuteActionReq{
//	        WorkflowID: "WO-2024-001",
//	        Action:     workflow.WorkflowActionApprove,
//	        Context:    map[string]any{"actor": "zhangsan", "comment": "检验合格"},
//	    })
//
//	    // 5. 查询可用动作和当前状态
//	    actions, _ := service.GetAvailableActions(ctx, "WO-2024-001")
//	    state, _ := service.GetCurrentState(ctx, "WO-2024-001")
//	    _ = actions
//	    _ = state
//	}
//
// 状态机说明：
//
// 状态集合: pending / in_progress / rejected / escalated / cancelled / completed，
// 其中 cancelled 和 completed 是终止状态，不再接受任何变更动作。
//
//   - approve: current_step+1，走到序列末尾即 completed
//   - reject: 必须带 target_step，只允许严格回退（target_step < current_step）
//   - cancel: 任何非终止状态可取消，step 保持不变
//   - rollback: 管理员回退，状态重置为 pending，和 reject 分开记录
//   - request_info: 只追加一条补充材料请求记录，step 和 status 都不变
//
// 更多示例请看 examples/ 目录。
package workflow
