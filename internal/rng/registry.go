package rng

import "sort"

// Well-known stream names used by the simulation.
const (
	StreamSpawn  = "spawn"
	StreamCombat = "combat"
	StreamAI     = "ai"
)

// Registry derives named, independent streams from one master seed. Streams
// are created on first access and cached for the registry's lifetime.
//
// A Registry is owned by exactly one simulation and is not safe for
// concurrent use.
type Registry struct {
	masterSeed uint32
	streams    map[string]*PCG32
	order      []string
}

// NewRegistry returns an empty registry for the given master seed.
func NewRegistry(masterSeed uint32) *Registry {
	return &Registry{
		masterSeed: masterSeed,
		streams:    make(map[string]*PCG32),
	}
}

// MasterSeed returns the seed all streams are derived from.
func (r *Registry) MasterSeed() uint32 {
	return r.masterSeed
}

// SubSeed computes the seed of the named stream:
// mix32(masterSeed XOR hash32(name)).
func SubSeed(masterSeed uint32, name string) uint32 {
	return Mix32(masterSeed ^ Hash32(name))
}

// Get returns the stream for name, materialising it on first use.
func (r *Registry) Get(name string) *PCG32 {
	if s, ok := r.streams[name]; ok {
		return s
	}
	sub := SubSeed(r.masterSeed, name)
	s := NewPCG32(uint64(sub), uint64(Hash32(name)))
	r.streams[name] = s
	r.order = append(r.order, name)
	return s
}

// Has reports whether the named stream has been materialised.
func (r *Registry) Has(name string) bool {
	_, ok := r.streams[name]
	return ok
}

// Names lists materialised streams in creation order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clone deep-copies the registry including the current state of every
// materialised stream, so the clone continues each sequence independently.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		masterSeed: r.masterSeed,
		streams:    make(map[string]*PCG32, len(r.streams)),
		order:      make([]string, len(r.order)),
	}
	copy(c.order, r.order)
	for name, s := range r.streams {
		c.streams[name] = s.Clone()
	}
	return c
}

// StreamState is the persisted form of one stream.
type StreamState struct {
	Name  string `msgpack:"name"`
	State uint64 `msgpack:"state"`
	Inc   uint64 `msgpack:"inc"`
}

// Export returns the state of every materialised stream sorted by name.
func (r *Registry) Export() []StreamState {
	out := make([]StreamState, 0, len(r.streams))
	for name, s := range r.streams {
		st, inc := s.State()
		out = append(out, StreamState{Name: name, State: st, Inc: inc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Import restores previously exported streams, replacing any with the same
// name.
func (r *Registry) Import(states []StreamState) {
	for _, st := range states {
		s, ok := r.streams[st.Name]
		if !ok {
			s = &PCG32{}
			r.streams[st.Name] = s
			r.order = append(r.order, st.Name)
		}
		s.Restore(st.State, st.Inc)
	}
}
