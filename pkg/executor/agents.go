package executor

import (
	"fmt"

	"github.com/devicelab-dev/agentenv/pkg/agent"
	"github.com/devicelab-dev/agentenv/pkg/core"
)

// DefaultAgents picks a script agent when the instruction names a script
// and a replay agent when it names an actions file.
func DefaultAgents(inst Instruction) (agent.Agent, error) {
	switch {
	case inst.Script != "":
		return agent.LoadScript(inst.Script)
	case inst.Actions != "":
		return agent.LoadReplay(inst.Actions)
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("instruction %q has no agent (actions or script)", inst.Description))
	}
}
