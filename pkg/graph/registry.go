package graph

import "errors"

var ErrUnknownSite = errors.New("unknown site")

// Registry assigns dense ids to site labels in first-seen order
// and keeps the number of outgoing edges of every site
type Registry struct {
	ids       map[string]int32 // label -> id
	labels    []string         // id -> label
	outDegree []int32          // id -> # outgoing edges
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]int32)}
}

// Resolve returns the id of label, allocating the next one on first occurrence
func (r *Registry) Resolve(label string) int32 {
	if id, ok := r.ids[label]; ok {
		return id
	}
	id := int32(len(r.labels))
	r.ids[label] = id
	r.labels = append(r.labels, label)
	r.outDegree = append(r.outDegree, 0)
	return id
}

// Lookup returns the id of an already resolved label
func (r *Registry) Lookup(label string) (int32, error) {
	id, ok := r.ids[label]
	if !ok {
		return -1, ErrUnknownSite
	}
	return id, nil
}

func (r *Registry) Label(id int32) string {
	if id < 0 || int(id) >= len(r.labels) {
		return ""
	}
	return r.labels[id]
}

func (r *Registry) OutDegree(id int32) int32 {
	return r.outDegree[id]
}

// Len is the number of sites (ids are in [0, Len()))
func (r *Registry) Len() int {
	return len(r.labels)
}

func (r *Registry) incrementOutDegree(id int32) {
	r.outDegree[id] += 1
}
