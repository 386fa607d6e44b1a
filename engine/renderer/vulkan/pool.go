package vulkan

import "sync"

type LockGroup string

const (
	// Staging buffer contents and capacity.
	StagingManagement LockGroup = "staging_management"
	// Transient command pool used for one-shot transfers.
	CommandPoolManagement LockGroup = "command_pool_management"
	// Live resource registry.
	ResourceManagement LockGroup = "resource_management"
	// Pipeline and pipeline layout creation.
	PipelineManagement LockGroup = "pipeline_management"
)

// lockPool guards the device level objects that are not owned by a
// ResourceManager.
var lockPool = NewLockPool()

// LockPool hands out one mutex per group plus one per queue family. vkQueue*
// calls on the same family must be externally synchronised.
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex

	queueMutexes map[uint32]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) group(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if _, exists := lp.locks[group]; !exists {
		lp.locks[group] = &sync.Mutex{}
	}
	return lp.locks[group]
}

func (lp *LockPool) queue(index uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if _, exists := lp.queueMutexes[index]; !exists {
		lp.queueMutexes[index] = &sync.Mutex{}
	}
	return lp.queueMutexes[index]
}

func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.group(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

func (lp *LockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := lp.queue(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()

	return fn()
}
