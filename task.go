package gfxqueue

// taskKind tags which payload fields of CommandProcessorTask are valid.
type taskKind int

const (
	taskInvalid taskKind = iota
	taskFlushWaitSemaphores
	taskProcessOutsideRenderPassCommands
	taskProcessRenderPassCommands
	taskFlushAndQueueSubmit
	taskOneOffQueueSubmit
	taskPresent
)

func (k taskKind) String() string {
	switch k {
	case taskFlushWaitSemaphores:
		return "FlushWaitSemaphores"
	case taskProcessOutsideRenderPassCommands:
		return "ProcessOutsideRenderPassCommands"
	case taskProcessRenderPassCommands:
		return "ProcessRenderPassCommands"
	case taskFlushAndQueueSubmit:
		return "FlushAndQueueSubmit"
	case taskOneOffQueueSubmit:
		return "OneOffQueueSubmit"
	case taskPresent:
		return "Present"
	default:
		return "Invalid"
	}
}

// CommandProcessorTask is one unit of queued work: a tagged variant
// carrying exactly the fields its handler reads (spec §3, §4.5). A single
// struct with every possible field is acceptable per the design notes
// because tasks are short-lived; what matters is that reset (invalidate)
// clears the tag so a moved-from or already-dispatched task can't be
// executed twice.
type CommandProcessorTask struct {
	kind taskKind

	protection ProtectionType
	priority   Priority

	// FlushWaitSemaphores / OneOffQueueSubmit.
	waitSemaphores []SemaphoreHandle
	waitStages     []PipelineStageMask

	// ProcessOutsideRenderPassCommands / ProcessRenderPassCommands.
	commandBuffer CommandBufferHandle
	renderPass    RenderPassInfo

	// FlushAndQueueSubmit.
	signalSemaphore SemaphoreHandle
	externalFence   FenceHandle
	serial          QueueSerial

	// OneOffQueueSubmit.
	oneOffBuffer CommandBufferHandle
	policy       SubmitPolicy

	// Present.
	presentInfo PresentInfo
	status      *SwapchainStatus
}

// Kind reports which variant this task is. Exposed for tests and logging;
// dispatch itself lives in processor.go.
func (t *CommandProcessorTask) Kind() string { return t.kind.String() }

func (t *CommandProcessorTask) invalidate() { *t = CommandProcessorTask{} }

func initFlushWaitSemaphores(protection ProtectionType, priority Priority, sems []SemaphoreHandle, stages []PipelineStageMask) CommandProcessorTask {
	return CommandProcessorTask{
		kind:           taskFlushWaitSemaphores,
		protection:     protection,
		priority:       priority,
		waitSemaphores: sems,
		waitStages:     stages,
	}
}

func initProcessOutsideRenderPassCommands(protection ProtectionType, priority Priority, buf CommandBufferHandle) CommandProcessorTask {
	return CommandProcessorTask{
		kind:          taskProcessOutsideRenderPassCommands,
		protection:    protection,
		priority:      priority,
		commandBuffer: buf,
	}
}

func initProcessRenderPassCommands(protection ProtectionType, priority Priority, pass RenderPassInfo, buf CommandBufferHandle) CommandProcessorTask {
	return CommandProcessorTask{
		kind:          taskProcessRenderPassCommands,
		protection:    protection,
		priority:      priority,
		renderPass:    pass,
		commandBuffer: buf,
	}
}

func initFlushAndQueueSubmit(protection ProtectionType, priority Priority, signalSem SemaphoreHandle, externalFence FenceHandle, serial QueueSerial) CommandProcessorTask {
	return CommandProcessorTask{
		kind:            taskFlushAndQueueSubmit,
		protection:      protection,
		priority:        priority,
		signalSemaphore: signalSem,
		externalFence:   externalFence,
		serial:          serial,
	}
}

func initOneOffQueueSubmit(protection ProtectionType, priority Priority, buf CommandBufferHandle, waitSem SemaphoreHandle, waitStage PipelineStageMask, policy SubmitPolicy, serial QueueSerial) CommandProcessorTask {
	var sems []SemaphoreHandle
	var stages []PipelineStageMask
	if waitSem.Valid() {
		sems = []SemaphoreHandle{waitSem}
		stages = []PipelineStageMask{waitStage}
	}
	return CommandProcessorTask{
		kind:           taskOneOffQueueSubmit,
		protection:     protection,
		priority:       priority,
		oneOffBuffer:   buf,
		waitSemaphores: sems,
		waitStages:     stages,
		policy:         policy,
		serial:         serial,
	}
}

func initPresent(priority Priority, info PresentInfo, status *SwapchainStatus) CommandProcessorTask {
	return CommandProcessorTask{
		kind:        taskPresent,
		priority:    priority,
		presentInfo: info,
		status:      status,
	}
}

// Valid reports whether h actually identifies a semaphore.
func (h SemaphoreHandle) Valid() bool { return h != 0 }
