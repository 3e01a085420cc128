package tools

import "fmt"

// TaskToolName is the tool name the model uses to delegate work to a
// sub-agent.
const TaskToolName = "Task"

// TaskArgs holds the arguments of a Task tool invocation.
type TaskArgs struct {
	Description  string
	Prompt       string
	SubagentType string
}

// TaskDefinition returns the model-facing definition of the Task tool.
// The agentTypes list is rendered into the description so the model
// knows which sub-agents it can delegate to.
func TaskDefinition(agentTypes []string) Definition {
	desc := "Launch a sub-agent to handle a delegated task autonomously. " +
		"The sub-agent works in its own context and reports progress back."
	if len(agentTypes) > 0 {
		desc += " Available agent types: "
		for i, t := range agentTypes {
			if i > 0 {
				desc += ", "
			}
			desc += t
		}
	}
	return Definition{
		Name:        TaskToolName,
		Description: desc,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Short (3-5 word) description of the task",
				},
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "The task for the sub-agent to perform",
				},
				"subagent_type": map[string]interface{}{
					"type":        "string",
					"description": "The type of sub-agent to launch",
				},
			},
			"required": []interface{}{"description", "prompt", "subagent_type"},
		},
	}
}

// ParseTaskArgs extracts and validates Task tool arguments.
func ParseTaskArgs(args map[string]interface{}) (TaskArgs, error) {
	a := Args(args)

	prompt, err := a.String("prompt")
	if err != nil {
		return TaskArgs{}, fmt.Errorf("Task: %w", err)
	}
	agentType, err := a.String("subagent_type")
	if err != nil {
		return TaskArgs{}, fmt.Errorf("Task: %w", err)
	}

	return TaskArgs{
		Description:  a.StringOr("description", ""),
		Prompt:       prompt,
		SubagentType: agentType,
	}, nil
}
