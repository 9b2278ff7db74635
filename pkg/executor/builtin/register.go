package builtin

import (
	"github.com/smilemakc/mbflow/internal/application/airouter"
	"github.com/smilemakc/mbflow/pkg/executor"
)

// RegisterBuiltins registers all built-in executors with the given manager.
// This function should be called by applications that want to use built-in executors.
func RegisterBuiltins(manager executor.Manager) error {
	executors := map[string]executor.Executor{
		"http":          NewHTTPExecutor(),
		"transform":     NewTransformExecutor(),
		"llm":           NewLLMExecutor(),
		"function_call": NewFunctionCallExecutor(),
		"conditional":   NewConditionalExecutor(),
		"merge":         NewMergeExecutor(),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}

// RegisterNodeKindAliases registers the workflow-authoring node kind names
// (condition, decision, http_action) against the same executor instances as
// their builtin equivalents, so a workflow can use either name
// interchangeably. ai_processor is registered separately via
// RegisterAIProcessor once the AI router is constructed.
func RegisterNodeKindAliases(manager executor.Manager) error {
	aliases := map[string]executor.Executor{
		"condition":   NewConditionalExecutor(),
		"decision":    NewConditionalExecutor(),
		"http_action": NewHTTPExecutor(),
	}

	for name, exec := range aliases {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}

// RegisterAIProcessor registers the ai_processor node kind against router.
// It's separate from RegisterNodeKindAliases because the router depends on
// the observer manager and Redis client, which aren't available until later
// in startup.
func RegisterAIProcessor(manager executor.Manager, router *airouter.Router) error {
	return manager.Register("ai_processor", NewAIProcessorExecutor(router))
}

// MustRegisterBuiltins registers all built-in executors and panics on error.
// This is a convenience function for initialization code.
func MustRegisterBuiltins(manager executor.Manager) {
	if err := RegisterBuiltins(manager); err != nil {
		panic("failed to register built-in executors: " + err.Error())
	}
}

// RegisterAdapters registers the data-shape adapter executors (base64/JSON
// conversions) used to bridge mismatched node input/output types.
func RegisterAdapters(manager executor.Manager) error {
	executors := map[string]executor.Executor{
		"base64_to_bytes": NewBase64ToBytesExecutor(),
		"bytes_to_base64": NewBytesToBase64Executor(),
		"string_to_json":  NewStringToJsonExecutor(),
		"json_to_string":  NewJsonToStringExecutor(),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}
