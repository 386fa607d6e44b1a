package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type CommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State CommandBufferState
}

func NewCommandBuffer(driver Driver, pool vk.CommandPool, isPrimary bool) (*CommandBuffer, error) {
	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	handle, err := driver.AllocateCommandBuffer(pool, level)
	if err != nil {
		core.LogError("failed to allocate command buffer: %s", err)
		return nil, err
	}

	return &CommandBuffer{
		Handle: handle,
		State:  COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (c *CommandBuffer) Free(driver Driver, pool vk.CommandPool) {
	if c.Handle != nil {
		driver.FreeCommandBuffer(pool, c.Handle)
	}
	c.Handle = nil
	c.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (c *CommandBuffer) Begin(driver Driver, isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	var flags vk.CommandBufferUsageFlags
	if isSingleUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if err := driver.BeginCommandBuffer(c.Handle, flags); err != nil {
		core.LogError("failed to begin command buffer: %s", err)
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (c *CommandBuffer) End(driver Driver) error {
	if err := driver.EndCommandBuffer(c.Handle); err != nil {
		core.LogError("failed to end command buffer: %s", err)
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (c *CommandBuffer) UpdateSubmitted() {
	c.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (c *CommandBuffer) Reset() {
	c.State = COMMAND_BUFFER_STATE_READY
}

// AllocateAndBeginSingleUse allocates a primary command buffer from pool and
// starts recording it for a single submission.
func AllocateAndBeginSingleUse(driver Driver, pool vk.CommandPool) (*CommandBuffer, error) {
	cb, err := NewCommandBuffer(driver, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(driver, true, false, false); err != nil {
		cb.Free(driver, pool)
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits to queue, blocks until the queue is
// idle and frees the command buffer. The buffer is freed on every path.
func (c *CommandBuffer) EndSingleUse(driver Driver, pool vk.CommandPool, queue vk.Queue) error {
	defer c.Free(driver, pool)

	if err := c.End(driver); err != nil {
		return err
	}

	if err := driver.QueueSubmit(queue, c.Handle); err != nil {
		return errors.Wrap(err, "submitting single use command buffer")
	}
	c.UpdateSubmitted()

	if err := driver.QueueWaitIdle(queue); err != nil {
		return errors.Wrap(err, "waiting for queue idle")
	}
	return nil
}
