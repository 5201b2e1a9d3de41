package registry

import (
	"fmt"
	"sync"

	"asterion/internal/shm"
)

// Registry owns one generation's instance descriptors and the name-keyed
// segment tables for running instances. All access goes through its
// internal lock; callers never see a live pointer into the collection.
type Registry struct {
	mu        sync.Mutex
	instances []Instance
	inputs    map[string]*shm.Input
	outputs   map[string]*shm.Output
	statuses  map[string]*shm.Status
}

func New() *Registry {
	return &Registry{
		inputs:   make(map[string]*shm.Input),
		outputs:  make(map[string]*shm.Output),
		statuses: make(map[string]*shm.Status),
	}
}

// Reset discards the previous generation's descriptors and installs a new
// dense population. Segment tables must already be empty: loadPopulation
// only runs once every prior instance reached a terminal state.
func (r *Registry) Reset(instances []Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.inputs) != 0 || len(r.outputs) != 0 || len(r.statuses) != 0 {
		return fmt.Errorf("registry reset with %d live segment entries", len(r.inputs)+len(r.outputs)+len(r.statuses))
	}
	for i, inst := range instances {
		if inst.ID != i {
			return fmt.Errorf("instance ids must be dense: index %d has id %d", i, inst.ID)
		}
	}
	r.instances = append(r.instances[:0:0], instances...)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Get returns a copy of the descriptor.
func (r *Registry) Get(id int) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.instances) {
		return Instance{}, false
	}
	return r.instances[id], true
}

// Snapshot returns copies of every descriptor in id order.
func (r *Registry) Snapshot() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Instance(nil), r.instances...)
}

// Update mutates one descriptor under the registry lock.
func (r *Registry) Update(id int, fn func(*Instance)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.instances) {
		return false
	}
	fn(&r.instances[id])
	return true
}

// CountByStatus returns how many instances currently hold the status.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := range r.instances {
		if r.instances[i].Status == status {
			count++
		}
	}
	return count
}

// FirstWithStatus returns the lowest-id instance in the given status.
func (r *Registry) FirstWithStatus(status Status) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.instances {
		if r.instances[i].Status == status {
			return r.instances[i], true
		}
	}
	return Instance{}, false
}

// IDsWithStatus returns the ids of all instances in the given status.
func (r *Registry) IDsWithStatus(status Status) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	for i := range r.instances {
		if r.instances[i].Status == status {
			ids = append(ids, r.instances[i].ID)
		}
	}
	return ids
}

// AllTerminal reports whether the whole generation has ended.
func (r *Registry) AllTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.instances {
		if !r.instances[i].Status.Terminal() {
			return false
		}
	}
	return len(r.instances) > 0
}

// PutSegments registers the three live segments of a started instance
// under their names.
func (r *Registry) PutSegments(in *shm.Input, out *shm.Output, status *shm.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inputs[in.Segment().Name()] = in
	r.outputs[out.Segment().Name()] = out
	r.statuses[status.Segment().Name()] = status
}

// StatusSegment looks up a live Status segment by name.
func (r *Registry) StatusSegment(name string) (*shm.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, ok := r.statuses[name]
	return seg, ok
}

// InputSegment looks up a live Input segment by name.
func (r *Registry) InputSegment(name string) (*shm.Input, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, ok := r.inputs[name]
	return seg, ok
}

// OutputSegment looks up a live Output segment by name.
func (r *Registry) OutputSegment(name string) (*shm.Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, ok := r.outputs[name]
	return seg, ok
}

// TakeSegments removes and returns an instance's segments so the scheduler
// can free them outside the registry lock.
func (r *Registry) TakeSegments(inst Instance) (*shm.Input, *shm.Output, *shm.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in := r.inputs[inst.InputName]
	out := r.outputs[inst.OutputName]
	status := r.statuses[inst.StatusName]
	delete(r.inputs, inst.InputName)
	delete(r.outputs, inst.OutputName)
	delete(r.statuses, inst.StatusName)
	return in, out, status
}

// LiveSegmentCount reports how many segment table entries remain.
func (r *Registry) LiveSegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs) + len(r.outputs) + len(r.statuses)
}
