package internel

import (
	"TXC/model"
	"TXC/pkg"
	"context"
	"sync"
)

// 内存中的资源实现, 记录每一次物理操作, 用于测试与演示

type ResourceEvent string

func (e ResourceEvent) String() string {
	return string(e)
}

const (
	EventAcquire           ResourceEvent = "Acquire"
	EventCommit            ResourceEvent = "Commit"
	EventRollback          ResourceEvent = "Rollback"
	EventRelease           ResourceEvent = "Release"
	EventSavepoint         ResourceEvent = "Savepoint"
	EventRollbackSavepoint ResourceEvent = "RollbackToSavepoint"
	EventReleaseSavepoint  ResourceEvent = "ReleaseSavepoint"
)

type MockEvent struct {
	//资源序号, 从 1 开始
	Resource  int
	Event     ResourceEvent
	Savepoint string
}

type MockProvider struct {
	mux    sync.Mutex
	seq    int
	events []MockEvent
	opts   []pkg.AcquireOptions

	savepoints bool

	//注入的故障
	AcquireErr  error
	CommitErr   error
	RollbackErr error
	ReleaseErr  error
}

type MockOption func(p *MockProvider)

func WithSavepointSupport() MockOption {
	return func(p *MockProvider) {
		p.savepoints = true
	}
}

func NewMockProvider(opts ...MockOption) *MockProvider {
	p := &MockProvider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MockProvider) Acquire(ctx context.Context, opts pkg.AcquireOptions) (model.ResourceHandle, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}

	p.seq++
	p.opts = append(p.opts, opts)
	p.events = append(p.events, MockEvent{Resource: p.seq, Event: EventAcquire})

	resource := &MockResource{id: p.seq, provider: p}
	if p.savepoints {
		return &MockSavepointResource{MockResource: resource}, nil
	}
	return resource, nil
}

func (p *MockProvider) record(id int, event ResourceEvent, savepoint string, err error) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if err != nil {
		return err
	}
	p.events = append(p.events, MockEvent{Resource: id, Event: event, Savepoint: savepoint})
	return nil
}

func (p *MockProvider) Events() []MockEvent {
	p.mux.Lock()
	defer p.mux.Unlock()
	events := make([]MockEvent, len(p.events))
	copy(events, p.events)
	return events
}

// Count 统计某类物理操作的次数
func (p *MockProvider) Count(event ResourceEvent) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// EventsOf 返回某个资源上的操作序列
func (p *MockProvider) EventsOf(resource int) []ResourceEvent {
	p.mux.Lock()
	defer p.mux.Unlock()
	var events []ResourceEvent
	for _, e := range p.events {
		if e.Resource == resource {
			events = append(events, e.Event)
		}
	}
	return events
}

func (p *MockProvider) AcquireOptions() []pkg.AcquireOptions {
	p.mux.Lock()
	defer p.mux.Unlock()
	opts := make([]pkg.AcquireOptions, len(p.opts))
	copy(opts, p.opts)
	return opts
}

type MockResource struct {
	id       int
	provider *MockProvider
}

func (r *MockResource) ID() int {
	return r.id
}

func (r *MockResource) Commit(ctx context.Context) error {
	return r.provider.record(r.id, EventCommit, "", r.provider.CommitErr)
}

func (r *MockResource) Rollback(ctx context.Context) error {
	return r.provider.record(r.id, EventRollback, "", r.provider.RollbackErr)
}

func (r *MockResource) Release(ctx context.Context) error {
	return r.provider.record(r.id, EventRelease, "", r.provider.ReleaseErr)
}

type MockSavepointResource struct {
	*MockResource
	seq int
}

func (r *MockSavepointResource) CreateSavepoint(ctx context.Context) (string, error) {
	r.seq++
	name := pkg.BuildSavepointName(r.seq)
	return name, r.provider.record(r.id, EventSavepoint, name, nil)
}

func (r *MockSavepointResource) RollbackToSavepoint(ctx context.Context, name string) error {
	return r.provider.record(r.id, EventRollbackSavepoint, name, nil)
}

func (r *MockSavepointResource) ReleaseSavepoint(ctx context.Context, name string) error {
	return r.provider.record(r.id, EventReleaseSavepoint, name, nil)
}
