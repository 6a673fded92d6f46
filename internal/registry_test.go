package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryWorkflowLookup(t *testing.T) {
	r := NewRegistry()
	info := &WorkflowInfo{Name: "greet", Fn: func(ec *ExecutionContext, receiver, input interface{}) (interface{}, error) {
		return input, nil
	}}
	r.RegisterWorkflow(info)

	got, ok := r.LookupWorkflow("greet")
	require.True(t, ok)
	require.Same(t, info, got)

	_, ok = r.LookupWorkflow("missing")
	require.False(t, ok)
}

func TestRegistryClassAndInstanceLookup(t *testing.T) {
	r := NewRegistry()
	classBinding := struct{ Name string }{Name: "class-binding"}
	r.RegisterClass("Greeter", &classBinding)

	got, ok := r.LookupClass("Greeter")
	require.True(t, ok)
	require.Same(t, &classBinding, got)

	instance := struct{ Name string }{Name: "instance"}
	r.RegisterInstance("Greeter", "cfg-1", &instance)

	gotInst, ok := r.LookupInstance("Greeter", "cfg-1")
	require.True(t, ok)
	require.Same(t, &instance, gotInst)

	_, ok = r.LookupInstance("Greeter", "cfg-2")
	require.False(t, ok)
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	first := &WorkflowInfo{Name: "wf"}
	second := &WorkflowInfo{Name: "wf"}
	r.RegisterWorkflow(first)
	r.RegisterWorkflow(second)

	got, ok := r.LookupWorkflow("wf")
	require.True(t, ok)
	require.Same(t, second, got)
}
