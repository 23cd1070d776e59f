package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// WorkflowInstancePo 工作流实例持久化对象
// 快照整体落在一行里面,version列做乐观锁
type WorkflowInstancePo struct {
	ID                 int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	WorkflowID         string `gorm:"column:workflow_id;uniqueIndex" json:"workflow_id"`
	DepartmentSequence []byte `gorm:"column:department_sequence" json:"department_sequence"`
	CurrentStep        int64  `gorm:"column:current_step" json:"current_step"`
	Status             string `gorm:"column:status;index" json:"status"`
	Data               []byte `gorm:"column:data" json:"data"` // 业务数据负载
	History            []byte `gorm:"column:history" json:"history"`
	Version            int64  `gorm:"column:version" json:"version"`
	CreatedAt          int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowInstancePo) TableName() string {
	return "approval_workflow_instance"
}

const defaultStoreTimeout = 5 * time.Second

// NewGormWorkflowStore gorm存储,MySQL/PostgreSQL/SQLite都可以
// 所有调用都带超时,存储层错误统一包装成ErrPersistence,不往外漏裸的db错误
func NewGormWorkflowStore(db *gorm.DB) WorkflowStore {
	return &gormWorkflowStore{
		db:      db,
		timeout: defaultStoreTimeout,
	}
}

type gormWorkflowStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func (s *gormWorkflowStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func instanceToPo(instance *WorkflowInstance) (*WorkflowInstancePo, error) {
	if instance == nil {
		return nil, errors.New("nil WorkflowInstance")
	}
	sequenceBytes, err := json.Marshal(instance.DepartmentSequence)
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal DepartmentSequence failed")
	}
	historyBytes, err := json.Marshal(instance.History)
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal History failed")
	}
	data := instance.Data
	if data == nil {
		data = NewJSONContextFromMap(nil)
	}
	dataBytes, err := data.ToBytes()
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal Data failed")
	}
	return &WorkflowInstancePo{
		WorkflowID:         instance.WorkflowID,
		DepartmentSequence: sequenceBytes,
		CurrentStep:        int64(instance.CurrentStep),
		Status:             instance.Status,
		Data:               dataBytes,
		History:            historyBytes,
		Version:            instance.Version,
		CreatedAt:          instance.CreatedAt,
		UpdatedAt:          instance.UpdatedAt,
	}, nil
}

func poToInstance(po *WorkflowInstancePo) (*WorkflowInstance, error) {
	if po == nil {
		return nil, errors.New("nil WorkflowInstancePo")
	}
	sequence := make([]string, 0)
	if len(po.DepartmentSequence) > 0 {
		if err := json.Unmarshal(po.DepartmentSequence, &sequence); err != nil {
			return nil, errors.WithMessagef(err, "Unmarshal DepartmentSequence failed, workflowID: %s", po.WorkflowID)
		}
	}
	history := make([]*TransitionRecord, 0)
	if len(po.History) > 0 {
		if err := json.Unmarshal(po.History, &history); err != nil {
			return nil, errors.WithMessagef(err, "Unmarshal History failed, workflowID: %s", po.WorkflowID)
		}
	}
	return &WorkflowInstance{
		WorkflowID:         po.WorkflowID,
		DepartmentSequence: sequence,
		CurrentStep:        int(po.CurrentStep),
		Status:             po.Status,
		Data:               NewJSONContext(po.Data),
		History:            history,
		Version:            po.Version,
		CreatedAt:          po.CreatedAt,
		UpdatedAt:          po.UpdatedAt,
	}, nil
}

func (s *gormWorkflowStore) Get(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	po := &WorkflowInstancePo{}
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
		}
		return nil, errors.Wrapf(ErrPersistence, "Get failed, workflowID: %s, err: %v", workflowID, err)
	}
	return poToInstance(po)
}

func (s *gormWorkflowStore) Create(ctx context.Context, instance *WorkflowInstance) error {
	po, err := instanceToPo(instance)
	if err != nil {
		return errors.WithMessage(err, "instanceToPo failed")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	// 唯一索引兜底,同id并发create只有一个能成功
	err = s.db.WithContext(ctx).Create(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.WithMessagef(ErrWorkflowAlreadyExists, "workflow %s already exists", instance.WorkflowID)
		}
		// 部分驱动不映射ErrDuplicatedKey,再查一次区分冲突和真实故障
		var count int64
		countErr := s.db.WithContext(ctx).Model(&WorkflowInstancePo{}).
			Where("workflow_id = ?", instance.WorkflowID).Count(&count).Error
		if countErr == nil && count > 0 {
			return errors.WithMessagef(ErrWorkflowAlreadyExists, "workflow %s already exists", instance.WorkflowID)
		}
		return errors.Wrapf(ErrPersistence, "Create failed, workflowID: %s, err: %v", instance.WorkflowID, err)
	}
	return nil
}

func (s *gormWorkflowStore) CompareAndSwap(ctx context.Context, workflowID string, expectedVersion int64, instance *WorkflowInstance) error {
	po, err := instanceToPo(instance)
	if err != nil {
		return errors.WithMessage(err, "instanceToPo failed")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	updateFields := map[string]any{
		"current_step": po.CurrentStep,
		"status":       po.Status,
		"data":         po.Data,
		"history":      po.History,
		"version":      expectedVersion + 1,
		"updated_at":   time.Now().Unix(),
	}
	// 单条UPDATE自身就是原子的,version条件不满足就一行都不会动
	result := s.db.WithContext(ctx).Model(&WorkflowInstancePo{}).
		Where("workflow_id = ? AND version = ?", workflowID, expectedVersion).
		Updates(updateFields)
	if result.Error != nil {
		return errors.Wrapf(ErrPersistence, "CompareAndSwap failed, workflowID: %s, err: %v", workflowID, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		countErr := s.db.WithContext(ctx).Model(&WorkflowInstancePo{}).
			Where("workflow_id = ?", workflowID).Count(&count).Error
		if countErr != nil {
			return errors.Wrapf(ErrPersistence, "CompareAndSwap check failed, workflowID: %s, err: %v", workflowID, countErr)
		}
		if count == 0 {
			return errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
		}
		return errors.WithMessagef(ErrVersionConflict, "workflow %s version %d is stale", workflowID, expectedVersion)
	}
	instance.Version = expectedVersion + 1
	return nil
}

func (s *gormWorkflowStore) Exists(ctx context.Context, workflowID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var count int64
	err := s.db.WithContext(ctx).Model(&WorkflowInstancePo{}).
		Where("workflow_id = ?", workflowID).Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(ErrPersistence, "Exists failed, workflowID: %s, err: %v", workflowID, err)
	}
	return count > 0, nil
}

func buildQueryWorkflowParams(db *gorm.DB, isCount bool, param *QueryWorkflowParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowParams")
	}
	if param.WorkflowID != nil {
		db = db.Where("workflow_id = ?", param.WorkflowID)
	}
	if len(param.StatusIn) != 0 {
		db = db.Where("status IN ?", param.StatusIn)
	}
	if param.IDGreaterThan != nil {
		db = db.Where("id > ?", param.IDGreaterThan)
	}
	if param.OrderbyIDAsc != nil && !isCount {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	if !isCount {
		// Page为nil和IsNoLimit等价,都是不分页返回全部
		if param.Page == nil {
			return db, nil
		}
		if param.Page.IsNoLimit != nil && *param.Page.IsNoLimit {
			return db, nil
		}
		if param.Page.Page == 0 {
			param.Page.Page = 1
		}
		if param.Page.Size == 0 {
			param.Page.Size = 10
		}
		db = db.Offset(int(param.Page.Page-1) * int(param.Page.Size)).Limit(int(param.Page.Size))
	}
	return db, nil
}

func (s *gormWorkflowStore) QueryWorkflows(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowParams failed")
	}
	pos := make([]*WorkflowInstancePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.Wrapf(ErrPersistence, "QueryWorkflows failed, err: %v", err)
	}
	instances := make([]*WorkflowInstance, 0, len(pos))
	for _, po := range pos {
		instance, err := poToInstance(po)
		if err != nil {
			return nil, errors.WithMessagef(err, "poToInstance failed, workflowID: %s", po.WorkflowID)
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (s *gormWorkflowStore) CountWorkflows(ctx context.Context, param *QueryWorkflowParams) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.Wrapf(ErrPersistence, "CountWorkflows failed, err: %v", err)
	}
	return count, nil
}
