package workflow

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// NewMemoryWorkflowStore 进程内存储,适合单测和单机部署
// 每个workflow_id一个独立entry,自己持有自己的互斥量,
// 不同id的写入互不阻塞,读走原子快照指针不加锁
func NewMemoryWorkflowStore() WorkflowStore {
	return &memoryWorkflowStore{
		entries: &sync.Map{},
	}
}

type memoryWorkflowStore struct {
	entries *sync.Map // workflowID -> *memoryEntry
}

type memoryEntry struct {
	mu       sync.Mutex // 只串行化同一个id的写入
	snapshot atomic.Pointer[WorkflowInstance]
}

func (s *memoryWorkflowStore) Get(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	entryInterface, ok := s.entries.Load(workflowID)
	if !ok {
		return nil, errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
	}
	entry := entryInterface.(*memoryEntry)
	instance := entry.snapshot.Load()
	if instance == nil {
		return nil, errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
	}
	return instance.Clone(), nil
}

func (s *memoryWorkflowStore) Create(ctx context.Context, instance *WorkflowInstance) error {
	if instance == nil {
		return errors.New("nil WorkflowInstance")
	}
	entry := &memoryEntry{}
	entry.snapshot.Store(instance.Clone())
	if _, loaded := s.entries.LoadOrStore(instance.WorkflowID, entry); loaded {
		return errors.WithMessagef(ErrWorkflowAlreadyExists, "workflow %s already exists", instance.WorkflowID)
	}
	return nil
}

func (s *memoryWorkflowStore) CompareAndSwap(ctx context.Context, workflowID string, expectedVersion int64, instance *WorkflowInstance) error {
	if instance == nil {
		return errors.New("nil WorkflowInstance")
	}
	entryInterface, ok := s.entries.Load(workflowID)
	if !ok {
		return errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
	}
	entry := entryInterface.(*memoryEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	current := entry.snapshot.Load()
	if current == nil {
		return errors.WithMessagef(ErrWorkflowNotFound, "workflow %s not found", workflowID)
	}
	if current.Version != expectedVersion {
		return errors.WithMessagef(ErrVersionConflict,
			"workflow %s expected version %d, got %d", workflowID, expectedVersion, current.Version)
	}
	next := instance.Clone()
	next.Version = expectedVersion + 1
	// 新快照整体替换指针,读方要么看旧的要么看新的,不会看到中间态
	entry.snapshot.Store(next)
	instance.Version = next.Version
	return nil
}

func (s *memoryWorkflowStore) Exists(ctx context.Context, workflowID string) (bool, error) {
	_, ok := s.entries.Load(workflowID)
	return ok, nil
}

func (s *memoryWorkflowStore) QueryWorkflows(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowInstance, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowParams")
	}
	statusSet := make(map[string]struct{})
	for _, status := range param.StatusIn {
		statusSet[status] = struct{}{}
	}
	instances := make([]*WorkflowInstance, 0)
	s.entries.Range(func(_, value any) bool {
		instance := value.(*memoryEntry).snapshot.Load()
		if instance == nil {
			return true
		}
		if param.WorkflowID != nil && instance.WorkflowID != *param.WorkflowID {
			return true
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[instance.Status]; !ok {
				return true
			}
		}
		instances = append(instances, instance.Clone())
		return true
	})
	// 内存实现没有自增行id,按创建时间+workflow_id排序保证结果稳定
	asc := param.OrderbyIDAsc == nil || *param.OrderbyIDAsc
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].CreatedAt != instances[j].CreatedAt {
			if asc {
				return instances[i].CreatedAt < instances[j].CreatedAt
			}
			return instances[i].CreatedAt > instances[j].CreatedAt
		}
		if asc {
			return instances[i].WorkflowID < instances[j].WorkflowID
		}
		return instances[i].WorkflowID > instances[j].WorkflowID
	})
	if param.Page == nil {
		return instances, nil
	}
	if param.Page.IsNoLimit != nil && *param.Page.IsNoLimit {
		return instances, nil
	}
	page := param.Page.Page
	size := param.Page.Size
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = 10
	}
	start := (page - 1) * size
	if start >= int64(len(instances)) {
		return []*WorkflowInstance{}, nil
	}
	end := start + size
	if end > int64(len(instances)) {
		end = int64(len(instances))
	}
	return instances[start:end], nil
}

func (s *memoryWorkflowStore) CountWorkflows(ctx context.Context, param *QueryWorkflowParams) (int64, error) {
	if param == nil {
		return 0, errors.New("nil QueryWorkflowParams")
	}
	statusSet := make(map[string]struct{})
	for _, status := range param.StatusIn {
		statusSet[status] = struct{}{}
	}
	var count int64
	s.entries.Range(func(_, value any) bool {
		instance := value.(*memoryEntry).snapshot.Load()
		if instance == nil {
			return true
		}
		if param.WorkflowID != nil && instance.WorkflowID != *param.WorkflowID {
			return true
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[instance.Status]; !ok {
				return true
			}
		}
		count++
		return true
	})
	return count, nil
}
