package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/mbflow/internal/application/airouter"
	"github.com/smilemakc/mbflow/pkg/executor"
)

// AIProcessorExecutor is the ai_processor node kind: it builds a prompt from
// config (templates already resolved by the TemplateExecutorWrapper by the
// time Execute runs), dispatches it through the AI router's task-type
// routing/fallback/quota policy, and returns the provider's answer alongside
// the accounting the router collected.
type AIProcessorExecutor struct {
	*executor.BaseExecutor
	router *airouter.Router
}

// NewAIProcessorExecutor wraps router as the ai_processor node executor.
func NewAIProcessorExecutor(router *airouter.Router) *AIProcessorExecutor {
	return &AIProcessorExecutor{
		BaseExecutor: executor.NewBaseExecutor("ai_processor"),
		router:       router,
	}
}

// Validate checks the config carries a prompt and, if set, a recognized
// task_type.
func (e *AIProcessorExecutor) Validate(config map[string]any) error {
	if err := e.ValidateRequired(config, "prompt"); err != nil {
		return err
	}
	if _, err := e.GetString(config, "prompt"); err != nil {
		return err
	}
	return nil
}

// Execute dispatches one AI router request built from config.
func (e *AIProcessorExecutor) Execute(ctx context.Context, config map[string]any, input any) (any, error) {
	if e.router == nil {
		return nil, fmt.Errorf("ai_processor: no AI router configured")
	}

	prompt, err := e.GetString(config, "prompt")
	if err != nil {
		return nil, err
	}

	taskType := e.GetStringDefault(config, "task_type", string(airouter.TaskAuto))
	explicitProvider := e.GetStringDefault(config, "provider", "")
	model := e.GetStringDefault(config, "model", "")
	temperature := e.getFloatDefault(config, "temperature", 0.7)
	maxTokens := e.GetIntDefault(config, "max_tokens", 1024)
	parseJSON := e.GetBoolDefault(config, "parse_json", false)
	timeoutSeconds := e.GetIntDefault(config, "timeout_seconds", 60)

	req := airouter.Request{
		TaskType:         airouter.TaskType(taskType),
		ExplicitProvider: explicitProvider,
		Model:            model,
		Prompt:           prompt,
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		ParseJSON:        parseJSON,
		Timeout:          time.Duration(timeoutSeconds) * time.Second,
	}

	if execCtx, ok := executor.GetExecutionContext(ctx); ok {
		req.ExecutionID = execCtx.ExecutionID
		req.NodeID = execCtx.NodeID
	}
	if traceID, ok := config["trace_id"].(string); ok {
		req.TraceID = traceID
	}

	resp, err := e.router.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"text":        resp.Text,
		"provider":    resp.Provider,
		"model":       resp.Model,
		"tokens_used": resp.TokensUsed,
		"cost":        resp.Cost,
		"confidence":  resp.Confidence,
		"latency_ms":  resp.LatencyMs,
	}, nil
}

// getFloatDefault retrieves a float64 config value (JSON numbers decode as
// float64), falling back to defaultValue for anything else.
func (e *AIProcessorExecutor) getFloatDefault(config map[string]any, key string, defaultValue float64) float64 {
	val, ok := config[key]
	if !ok {
		return defaultValue
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return defaultValue
	}
}
