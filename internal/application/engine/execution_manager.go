package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/application/approval"
	"github.com/smilemakc/mbflow/internal/application/observer"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// ExecutionManager manages workflow execution lifecycle
type ExecutionManager struct {
	executorManager executor.Manager
	workflowRepo    repository.WorkflowRepository
	executionRepo   repository.ExecutionRepository
	eventRepo       repository.EventRepository
	dagExecutor     *DAGExecutor
	observerManager *observer.ObserverManager
	approvalIssuer  *approval.Manager
	checkpoints     *CheckpointManager
}

// NewExecutionManager creates a new execution manager
func NewExecutionManager(
	executorManager executor.Manager,
	workflowRepo repository.WorkflowRepository,
	executionRepo repository.ExecutionRepository,
	eventRepo repository.EventRepository,
	observerManager *observer.ObserverManager,
) *ExecutionManager {
	nodeExecutor := NewNodeExecutor(executorManager)
	dagExecutor := NewDAGExecutor(nodeExecutor, observerManager)

	return &ExecutionManager{
		executorManager: executorManager,
		workflowRepo:    workflowRepo,
		executionRepo:   executionRepo,
		eventRepo:       eventRepo,
		dagExecutor:     dagExecutor,
		observerManager: observerManager,
		checkpoints:     NewCheckpointManager(),
	}
}

// WithApprovalIssuer attaches the human_task approval subsystem, enabling
// executions to suspend at human_task nodes rather than fail on them.
func (em *ExecutionManager) WithApprovalIssuer(issuer *approval.Manager) *ExecutionManager {
	em.approvalIssuer = issuer
	return em
}

// Execute executes a workflow
func (em *ExecutionManager) Execute(
	ctx context.Context,
	workflowID string,
	input map[string]interface{},
	opts *ExecutionOptions,
) (*models.Execution, error) {
	// Use default options if not provided
	if opts == nil {
		opts = DefaultExecutionOptions()
	}
	if opts.ApprovalIssuer == nil {
		opts.ApprovalIssuer = em.approvalIssuer
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = em.checkpoints
	}

	// 1. Load workflow
	workflowUUID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow ID: %w", err)
	}

	workflowModel, err := em.workflowRepo.FindByIDWithRelations(ctx, workflowUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	// Convert storage model to domain model
	workflow := WorkflowModelToDomain(workflowModel)

	// 2. Create execution record
	execution := &models.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Status:       models.ExecutionStatusRunning,
		Input:        input,
		Variables:    em.mergeVariables(workflow.Variables, opts.Variables),
		StartedAt:    time.Now(),
	}

	// Convert to storage model and save execution
	executionModel := ExecutionDomainToModel(execution)
	if err := em.executionRepo.Create(ctx, executionModel); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	// Notify execution started
	if em.observerManager != nil {
		event := observer.Event{
			Type:        observer.EventTypeExecutionStarted,
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Timestamp:   execution.StartedAt,
			Status:      string(execution.Status),
			Input:       execution.Input,
			Variables:   execution.Variables,
		}
		em.observerManager.Notify(ctx, event)
	}

	// 3. Build execution state
	execState := NewExecutionState(
		execution.ID,
		workflow.ID,
		workflow,
		input,
		execution.Variables,
	)

	// 4. Execute DAG
	execErr := em.dagExecutor.Execute(ctx, execState, opts)

	// 5. Update execution with results and notify observers
	return em.finalizeExecution(ctx, execution, execState, workflow, workflowModel, execErr)
}

// ExecuteAsync starts a workflow execution and returns immediately with the
// running execution record; the DAG runs in the background. Callers poll
// GetExecution or watch the observer stream for completion.
func (em *ExecutionManager) ExecuteAsync(
	ctx context.Context,
	workflowID string,
	input map[string]interface{},
	opts *ExecutionOptions,
) (*models.Execution, error) {
	if opts == nil {
		opts = DefaultExecutionOptions()
	}
	if opts.ApprovalIssuer == nil {
		opts.ApprovalIssuer = em.approvalIssuer
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = em.checkpoints
	}

	workflowUUID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow ID: %w", err)
	}

	workflowModel, err := em.workflowRepo.FindByIDWithRelations(ctx, workflowUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	workflow := WorkflowModelToDomain(workflowModel)

	execution := &models.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Status:       models.ExecutionStatusRunning,
		Input:        input,
		Variables:    em.mergeVariables(workflow.Variables, opts.Variables),
		StartedAt:    time.Now(),
	}

	executionModel := ExecutionDomainToModel(execution)
	if err := em.executionRepo.Create(ctx, executionModel); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if em.observerManager != nil {
		em.observerManager.Notify(ctx, observer.Event{
			Type:        observer.EventTypeExecutionStarted,
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Timestamp:   execution.StartedAt,
			Status:      string(execution.Status),
			Input:       execution.Input,
			Variables:   execution.Variables,
		})
	}

	go em.runDetached(execution, workflow, workflowModel, input, opts)

	return execution, nil
}

// runDetached runs the DAG for an async execution on a background context
// (the triggering HTTP request's context is gone by the time this runs) and
// persists the final (or paused) state through finalizeExecution.
func (em *ExecutionManager) runDetached(
	execution *models.Execution,
	workflow *models.Workflow,
	workflowModel *storagemodels.WorkflowModel,
	input map[string]interface{},
	opts *ExecutionOptions,
) {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execState := NewExecutionState(execution.ID, workflow.ID, workflow, input, execution.Variables)
	execErr := em.dagExecutor.Execute(ctx, execState, opts)

	// Best-effort: nothing is waiting on this goroutine's return value, the
	// persisted execution record is the only observable result.
	_, _ = em.finalizeExecution(ctx, execution, execState, workflow, workflowModel, execErr)
}

// finalizeExecution records a DAG run's outcome: a human_task suspension
// pauses the execution (not a failure, no CompletedAt); anything else marks
// it completed or failed and sets its final output.
func (em *ExecutionManager) finalizeExecution(
	ctx context.Context,
	execution *models.Execution,
	execState *ExecutionState,
	workflow *models.Workflow,
	workflowModel *storagemodels.WorkflowModel,
	execErr error,
) (*models.Execution, error) {
	var suspended *SuspendedError
	if errors.As(execErr, &suspended) {
		execution.Status = models.ExecutionStatusPaused
		execution.CurrentNodeID = suspended.NodeID
		execution.NodeExecutions = em.buildNodeExecutions(execState, workflow, workflowModel)

		executionModel := ExecutionDomainToModel(execution)
		if err := em.executionRepo.Update(ctx, executionModel); err != nil {
			return nil, fmt.Errorf("failed to update execution: %w", err)
		}

		if em.observerManager != nil {
			em.observerManager.Notify(ctx, observer.Event{
				Type:        observer.EventTypeExecutionStarted, // reuse: no dedicated "paused" execution event
				ExecutionID: execution.ID,
				WorkflowID:  execution.WorkflowID,
				Timestamp:   time.Now(),
				Status:      string(execution.Status),
				Variables:   execution.Variables,
				Metadata: map[string]any{
					"paused_node_id": suspended.NodeID,
					"ticket_id":      suspended.TicketID,
				},
			})
		}

		return execution, nil
	}

	now := time.Now()
	execution.CompletedAt = &now
	execution.Duration = execution.CalculateDuration()
	execution.CurrentNodeID = ""

	if execErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = execErr.Error()
	} else {
		execution.Status = models.ExecutionStatusCompleted
		execution.Output = em.getFinalOutput(execState)
	}

	execution.NodeExecutions = em.buildNodeExecutions(execState, workflow, workflowModel)

	executionModel := ExecutionDomainToModel(execution)
	if err := em.executionRepo.Update(ctx, executionModel); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	em.checkpoints.DeleteCheckpoint(execution.ID)

	if em.observerManager != nil {
		duration := execution.Duration
		eventType := observer.EventTypeExecutionCompleted
		if execErr != nil {
			eventType = observer.EventTypeExecutionFailed
		}

		event := observer.Event{
			Type:        eventType,
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Timestamp:   time.Now(),
			Status:      string(execution.Status),
			Output:      execution.Output,
			DurationMs:  &duration,
			Variables:   execution.Variables,
		}

		if execErr != nil {
			event.Error = execErr
		}

		em.observerManager.Notify(ctx, event)
	}

	return execution, execErr
}

// Resume applies an approval response to a paused execution's suspended
// human_task node and re-runs the DAG, skipping every node the checkpoint
// records as completed. token and
// action come from the approval response; comment/data are the approver's
// free-form reply, merged into the node's output so downstream nodes can
// read {{human_task_node.comment}}/{{human_task_node.data}}.
func (em *ExecutionManager) Resume(
	ctx context.Context,
	executionID string,
	token string,
	action approval.Action,
	comment string,
	data map[string]interface{},
) (*models.Execution, error) {
	if em.approvalIssuer == nil {
		return nil, fmt.Errorf("resume: no approval issuer configured")
	}

	ticket, err := em.approvalIssuer.Respond(ctx, token, action, "", comment, data)
	if err != nil {
		return nil, err
	}

	return em.resumeWithTicket(ctx, executionID, ticket)
}

// ResumeFromTicket continues a paused execution using a ticket that was
// already resolved outside the normal token-response flow (e.g. a
// CheckTimeouts sweep applying a fallback policy) — Respond isn't called
// again since the ticket's single-response consume guard is already spent.
func (em *ExecutionManager) ResumeFromTicket(ctx context.Context, ticket *approval.Ticket) (*models.Execution, error) {
	return em.resumeWithTicket(ctx, ticket.ExecutionID, ticket)
}

func (em *ExecutionManager) resumeWithTicket(ctx context.Context, executionID string, ticket *approval.Ticket) (*models.Execution, error) {
	if ticket.ExecutionID != executionID {
		return nil, fmt.Errorf("resume: ticket is for execution %s, not %s", ticket.ExecutionID, executionID)
	}

	checkpoint, ok := em.checkpoints.GetCheckpoint(executionID)
	if !ok {
		return nil, fmt.Errorf("resume: no checkpoint found for execution %s", executionID)
	}

	executionUUID, err := uuid.Parse(executionID)
	if err != nil {
		return nil, fmt.Errorf("resume: invalid execution ID: %w", err)
	}
	executionModel, err := em.executionRepo.FindByID(ctx, executionUUID)
	if err != nil {
		return nil, fmt.Errorf("resume: failed to load execution: %w", err)
	}
	execution := ExecutionModelToDomain(executionModel)
	if execution.Status != models.ExecutionStatusPaused {
		return nil, fmt.Errorf("resume: execution %s is not paused (status: %s)", executionID, execution.Status)
	}

	workflowUUID, err := uuid.Parse(execution.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("resume: invalid workflow ID: %w", err)
	}
	workflowModel, err := em.workflowRepo.FindByIDWithRelations(ctx, workflowUUID)
	if err != nil {
		return nil, fmt.Errorf("resume: failed to load workflow: %w", err)
	}
	workflow := WorkflowModelToDomain(workflowModel)

	if err := ValidateCheckpoint(checkpoint, workflow); err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}

	execState := RestoreFromCheckpoint(checkpoint, workflow, execution.Input)

	nodeOutput := map[string]interface{}{
		"approved": ticket.Approved(),
		"status":   string(ticket.Status),
		"comment":  ticket.Comment,
		"data":     ticket.Data,
	}
	execState.SetNodeOutput(suspendedNodeID(checkpoint), nodeOutput)
	execState.SetNodeStatus(suspendedNodeID(checkpoint), models.NodeExecutionStatusCompleted)
	execState.SetNodeEndTime(suspendedNodeID(checkpoint), time.Now())

	opts := DefaultExecutionOptions()
	opts.Variables = execution.Variables
	opts.ApprovalIssuer = em.approvalIssuer
	opts.Checkpoints = em.checkpoints
	opts.ObserverManager = em.observerManager

	execErr := em.dagExecutor.Execute(ctx, execState, opts)

	return em.finalizeExecution(ctx, execution, execState, workflow, workflowModel, execErr)
}

// suspendedNodeID recovers the human_task node ID a checkpoint paused at:
// it is the one node in the checkpoint's statuses marked awaiting approval.
func suspendedNodeID(checkpoint *ExecutionCheckpoint) string {
	for nodeID, status := range checkpoint.NodeStatuses {
		if status == models.NodeExecutionStatusAwaitingApproval {
			return nodeID
		}
	}
	return ""
}

// mergeVariables merges workflow and execution variables.
// Execution variables override workflow variables.
func (em *ExecutionManager) mergeVariables(
	workflowVars map[string]interface{},
	executionVars map[string]interface{},
) map[string]interface{} {
	merged := make(map[string]interface{})

	// Copy workflow variables
	for k, v := range workflowVars {
		merged[k] = v
	}

	// Execution variables override workflow variables
	for k, v := range executionVars {
		merged[k] = v
	}

	return merged
}

// getFinalOutput gets output from leaf nodes (nodes with no outgoing edges)
func (em *ExecutionManager) getFinalOutput(execState *ExecutionState) map[string]interface{} {
	// Find leaf nodes (nodes with no outgoing edges)
	leafNodes := em.findLeafNodes(execState.Workflow)

	if len(leafNodes) == 0 {
		return nil
	}

	// If single leaf, return its output
	if len(leafNodes) == 1 {
		if output, ok := execState.GetNodeOutput(leafNodes[0].ID); ok {
			if outputMap, ok := output.(map[string]interface{}); ok {
				return outputMap
			}
		}
	}

	// Multiple leaves - merge outputs namespaced by node ID
	merged := make(map[string]interface{})
	for _, node := range leafNodes {
		if output, ok := execState.GetNodeOutput(node.ID); ok {
			merged[node.ID] = output
		}
	}

	return merged
}

// findLeafNodes finds nodes with no outgoing edges
func (em *ExecutionManager) findLeafNodes(workflow *models.Workflow) []*models.Node {
	hasOutgoing := make(map[string]bool)
	for _, edge := range workflow.Edges {
		hasOutgoing[edge.From] = true
	}

	leaves := []*models.Node{}
	for _, node := range workflow.Nodes {
		if !hasOutgoing[node.ID] {
			leaves = append(leaves, node)
		}
	}

	return leaves
}

// buildNodeExecutions builds NodeExecution records from execution state
func (em *ExecutionManager) buildNodeExecutions(
	execState *ExecutionState,
	workflow *models.Workflow,
	workflowModel *storagemodels.WorkflowModel,
) []*models.NodeExecution {
	// Build map from logical ID to UUID
	logicalToUUID := make(map[string]string)
	for _, nodeModel := range workflowModel.Nodes {
		logicalToUUID[nodeModel.NodeID] = nodeModel.ID.String()
	}

	nodeExecs := make([]*models.NodeExecution, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		// Get the UUID for this logical node ID
		nodeUUID, ok := logicalToUUID[node.ID]
		if !ok {
			// Skip nodes that don't have a UUID mapping
			continue
		}

		nodeExec := &models.NodeExecution{
			ID:          uuid.New().String(),
			ExecutionID: execState.ExecutionID,
			NodeID:      nodeUUID, // Use UUID instead of logical ID
			NodeName:    node.Name,
			NodeType:    node.Type,
		}

		// Get status
		if status, ok := execState.GetNodeStatus(node.ID); ok {
			nodeExec.Status = status
		}

		// Get output
		if output, ok := execState.GetNodeOutput(node.ID); ok {
			if outputMap, ok := output.(map[string]interface{}); ok {
				nodeExec.Output = outputMap
			}
		}

		// Get error
		if err, ok := execState.GetNodeError(node.ID); ok {
			nodeExec.Error = err.Error()
		}

		// Get timestamps
		if startTime, ok := execState.GetNodeStartTime(node.ID); ok {
			nodeExec.StartedAt = startTime
		}
		if endTime, ok := execState.GetNodeEndTime(node.ID); ok {
			nodeExec.CompletedAt = &endTime
		}

		nodeExecs = append(nodeExecs, nodeExec)
	}

	return nodeExecs
}
