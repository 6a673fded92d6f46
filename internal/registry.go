package internal

import "sync"

// WorkflowFunction is the signature every registered workflow body must
// have. Go has no args/kwargs tuple, so the spec's "serialized {args,
// kwargs}" becomes a single serializable input value — the idiomatic Go
// equivalent (see DESIGN.md, "args/kwargs -> single input"). receiver is
// nil for a plain function; for an instance method it is the object
// looked up from the registry's instance table, never serialized into
// inputs (see DESIGN.md, "args/kwargs -> single input + explicit receiver").
type WorkflowFunction func(ec *ExecutionContext, receiver interface{}, input interface{}) (interface{}, error)

// StepFunction is the signature every registered step body must have.
type StepFunction func(ec *ExecutionContext, input interface{}) (interface{}, error)

// WorkflowInfo is what the registry stores per registered workflow name.
type WorkflowInfo struct {
	Name       string
	Fn         WorkflowFunction
	ClassName  string
	ConfigName string
	TempWFType string // "", "transaction", "step"
}

// Registry is the name -> function table plus the per-class and
// per-instance tables used to re-bind an instance method's receiver on
// recovery. Registration happens at init time only; lookups are
// read-mostly, so a single RWMutex is sufficient.
type Registry struct {
	mu           sync.RWMutex
	workflowInfo map[string]*WorkflowInfo
	classInfo    map[string]interface{}
	instanceInfo map[string]interface{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workflowInfo: make(map[string]*WorkflowInfo),
		classInfo:    make(map[string]interface{}),
		instanceInfo: make(map[string]interface{}),
	}
}

// RegisterWorkflow adds a workflow function under name. Re-registering the
// same name overwrites the prior binding (this only happens at process
// startup, before any workflow runs).
func (r *Registry) RegisterWorkflow(info *WorkflowInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflowInfo[info.Name] = info
}

// LookupWorkflow returns the registered workflow by name.
func (r *Registry) LookupWorkflow(name string) (*WorkflowInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.workflowInfo[name]
	return info, ok
}

// RegisterClass binds a class name to its (non-serializable) binding
// object, used to re-prepend a receiver to args on recovery.
func (r *Registry) RegisterClass(className string, binding interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classInfo[className] = binding
}

// LookupClass returns the binding registered for className.
func (r *Registry) LookupClass(className string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.classInfo[className]
	return b, ok
}

// RegisterInstance binds "{className}/{configName}" to instance.
func (r *Registry) RegisterInstance(className, configName string, instance interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instanceInfo[instanceKey(className, configName)] = instance
}

// LookupInstance returns the instance registered for (className, configName).
func (r *Registry) LookupInstance(className, configName string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instanceInfo[instanceKey(className, configName)]
	return inst, ok
}

func instanceKey(className, configName string) string {
	return className + "/" + configName
}
