package tools

import (
	"errors"
	"fmt"
)

// Methods understood by the actuation endpoint.
const (
	MethodGetSignalState = "getTrafficSignalState"
	MethodSetPriority    = "setPriorityCorridor"
	MethodNotifyAgents   = "notifyTrafficAgents"
)

var ErrUnknownTool = errors.New("unknown tool")

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mutating    bool   `json:"mutating"`
}

// Registry is the closed set of tools a plan step may name.
var Registry = []Tool{
	{Name: MethodGetSignalState, Description: "Read the current state of a traffic-signal entity"},
	{Name: MethodSetPriority, Description: "Set the priorityCorridor attribute of a traffic-signal entity", Mutating: true},
	{Name: MethodNotifyAgents, Description: "Broadcast a message to field traffic agents"},
}

func Lookup(name string) (Tool, error) {
	for _, tool := range Registry {
		if tool.Name == name {
			return tool, nil
		}
	}
	return Tool{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}
