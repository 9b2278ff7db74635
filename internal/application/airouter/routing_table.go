package airouter

// route describes a task type's primary provider and its ordered fallback
// chain, walked in order when the primary (or a chain member) is out of
// quota or fails with a retryable error.
type route struct {
	primary  string
	fallback []string
}

// defaultRoutes is the static task_type -> provider routing table. Chain
// order favors providers with a different underlying vendor than the
// primary, so a vendor-wide outage doesn't take out the whole chain.
var defaultRoutes = map[TaskType]route{
	TaskQuickDecision:     {primary: "groq", fallback: []string{"qwen", "glm4"}},
	TaskContentGen:        {primary: "gemini", fallback: []string{"qwen", "kimi"}},
	TaskLongContext:       {primary: "kimi", fallback: []string{"gemini", "qwen"}},
	TaskSentimentAnalysis: {primary: "huggingface", fallback: []string{"qwen", "groq"}},
	TaskCodeGeneration:    {primary: "qwen", fallback: []string{"glm4", "groq"}},
	TaskMathReasoning:     {primary: "glm4", fallback: []string{"qwen", "gemini"}},
	TaskMultilingual:      {primary: "qwen", fallback: []string{"glm4", "kimi"}},
	TaskAuto:              {primary: "gemini", fallback: []string{"groq", "qwen"}},
}

// chain returns the ordered provider names to try for taskType: primary
// first, then its fallbacks. An unknown task type falls back to "auto"'s
// chain.
func chain(taskType TaskType) []string {
	r, ok := defaultRoutes[taskType]
	if !ok {
		r = defaultRoutes[TaskAuto]
	}
	return append([]string{r.primary}, r.fallback...)
}
