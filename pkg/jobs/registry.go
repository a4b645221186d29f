package jobs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// DecodeFunc rebuilds a job from its payload.
type DecodeFunc func(payload []byte) (Job, error)

type registration struct {
	name   string
	typ    reflect.Type
	decode DecodeFunc
}

// Registry binds job types to stable names. Payloads are JSON; a job type
// that needs another format can implement json.Marshaler and json.Unmarshaler.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*registration
	byType map[reflect.Type]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: map[string]*registration{},
		byType: map[reflect.Type]*registration{},
	}
}

// Register binds *T to name. Pushed jobs must be *T values.
func Register[T any, PT interface {
	*T
	Job
}](r *Registry, name string) error {
	var sample PT = new(T)
	return r.RegisterFunc(name, sample, func(payload []byte) (Job, error) {
		var job PT = new(T)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, job); err != nil {
				return nil, err
			}
		}
		return job, nil
	})
}

// MustRegister is like Register but panics on error.
func MustRegister[T any, PT interface {
	*T
	Job
}](r *Registry, name string) {
	if err := Register[T, PT](r, name); err != nil {
		panic(err)
	}
}

// RegisterFunc binds the dynamic type of sample to name with a custom decoder.
func (r *Registry) RegisterFunc(name string, sample Job, decode DecodeFunc) error {
	if r == nil {
		return jobsError(ErrValidation, "registry is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return jobsError(ErrValidation, "job type name is required")
	}
	if sample == nil {
		return jobsError(ErrValidation, "job sample is required")
	}
	if decode == nil {
		return jobsError(ErrValidation, "decode func is required")
	}

	typ := reflect.TypeOf(sample)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return jobsError(ErrConflict, fmt.Sprintf("job type %q already registered", name))
	}
	if existing, exists := r.byType[typ]; exists {
		return jobsError(ErrConflict, fmt.Sprintf("%s already registered as %q", typ, existing.name))
	}

	reg := &registration{name: name, typ: typ, decode: decode}
	r.byName[name] = reg
	r.byType[typ] = reg
	return nil
}

// Name returns the registered name for job.
func (r *Registry) Name(job Job) (string, error) {
	if job == nil {
		return "", jobsError(ErrValidation, "job is nil")
	}
	r.mu.RLock()
	reg, ok := r.byType[reflect.TypeOf(job)]
	r.mu.RUnlock()
	if !ok {
		return "", jobsError(ErrUnregisteredJob, fmt.Sprintf("%T", job))
	}
	return reg.name, nil
}

// Encode returns the type name and payload for job.
func (r *Registry) Encode(job Job) (string, []byte, error) {
	name, err := r.Name(job)
	if err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", nil, fmt.Errorf("encode job %q: %w", name, err)
	}
	return name, payload, nil
}

// Decode rebuilds the job registered as name.
func (r *Registry) Decode(name string, payload []byte) (Job, error) {
	r.mu.RLock()
	reg, ok := r.byName[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrDecode, jobsError(ErrUnregisteredJob, name))
	}
	job, err := reg.decode(payload)
	if err != nil {
		return nil, jobsError(ErrDecode, fmt.Sprintf("job type %q: %v", name, err))
	}
	if job == nil {
		return nil, jobsError(ErrDecode, fmt.Sprintf("job type %q decoded to nil", name))
	}
	return job, nil
}

// Names lists registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
