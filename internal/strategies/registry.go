package strategies

import (
	"fmt"
	"sync"
)

// Factory 策略构造函数，每次调用返回一个全新的策略实例
type Factory func() Strategy

// Registry 策略注册表
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry 创建新的策略注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register 注册策略构造函数
func (r *Registry) Register(id string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("策略 %s 已存在", id)
	}
	r.factories[id] = factory
	return nil
}

// New 按 ID 构造一个策略实例
func (r *Registry) New(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[id]
	if !exists {
		return nil, fmt.Errorf("策略 %s 不存在", id)
	}
	return factory(), nil
}

// List 列出所有已注册的策略 ID
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// GlobalRegistry 全局策略注册表
var GlobalRegistry = NewRegistry()

// RegisterStrategy 向全局注册表注册策略，重复注册直接 panic
func RegisterStrategy(id string, factory Factory) {
	if err := GlobalRegistry.Register(id, factory); err != nil {
		panic(err)
	}
}
