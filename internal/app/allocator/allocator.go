// Package allocator implements a side-effect free bin-packing allocator over abstract resources.
//
// Every entry point picks the candidate that leaves the most remaining capacity after the
// operation, ties go to the first candidate seen.
package allocator

import "github.com/google/uuid"

// Resource is a capacity pool, usually a media worker.
type Resource struct {
	ID        string `json:"id"`
	Used      int    `json:"used"`
	Available int    `json:"available"`
}

// Allocation is a claim against exactly one resource. Available is headroom reserved for
// growth. Limit caps Used+Available when hard expanding, zero means unbounded.
type Allocation struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Used      int    `json:"used"`
	Available int    `json:"available"`
	Limit     int    `json:"limit,omitempty"`
}

type State struct {
	Resources   []Resource   `json:"resources"`
	Allocations []Allocation `json:"allocations"`
}

type Kind int

const (
	KindExpand Kind = iota
	KindAllocate
)

func (k Kind) String() string {
	if k == KindAllocate {
		return "allocate"
	}
	return "expand"
}

// Result carries the updated allocation and its backing resource.
type Result struct {
	Kind       Kind
	Allocation Allocation
	Resource   Resource
}

// Request asks for Amount units, trying Preferred allocations first. Reserve is the
// headroom given to a fresh allocation, zero unless the caller opens shards with a
// fixed initial reservation.
type Request struct {
	Amount    int
	Preferred []string
	Reserve   int
}

func (s State) resource(id string) (Resource, bool) {
	for _, r := range s.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// Expand grows an existing allocation by amount, or returns nil.
func Expand(s State, amount int) *Result {
	if amount < 0 {
		return nil
	}
	if res := expandLight(s, amount); res != nil {
		return res
	}
	return expandHard(s, amount)
}

func expandLight(s State, amount int) *Result {
	best := -1
	bestRemaining := 0
	for i, a := range s.Allocations {
		if a.Available < amount {
			continue
		}
		remaining := a.Available - amount
		if best < 0 || remaining > bestRemaining {
			best, bestRemaining = i, remaining
		}
	}
	if best < 0 {
		return nil
	}
	a := s.Allocations[best]
	r, ok := s.resource(a.Resource)
	if !ok {
		r = Resource{ID: a.Resource}
	}
	a.Used += amount
	a.Available -= amount
	return &Result{Kind: KindExpand, Allocation: a, Resource: r}
}

func expandHard(s State, amount int) *Result {
	best := -1
	bestRemaining := 0
	var bestResource Resource
	for i, a := range s.Allocations {
		shortfall := amount - a.Available
		if shortfall <= 0 {
			continue
		}
		if a.Limit > 0 && a.Used+a.Available+shortfall > a.Limit {
			continue
		}
		r, ok := s.resource(a.Resource)
		if !ok || r.Available < shortfall {
			continue
		}
		remaining := r.Available - shortfall
		if best < 0 || remaining > bestRemaining {
			best, bestRemaining, bestResource = i, remaining, r
		}
	}
	if best < 0 {
		return nil
	}
	a := s.Allocations[best]
	shortfall := amount - a.Available
	a.Used += amount
	a.Available = 0
	bestResource.Used += shortfall
	bestResource.Available -= shortfall
	return &Result{Kind: KindExpand, Allocation: a, Resource: bestResource}
}

// Allocate creates a new allocation of used+available units on the resource left with the most
// remaining capacity, or returns nil when nothing fits.
func Allocate(s State, used, available int) *Result {
	if used < 0 || available < 0 {
		return nil
	}
	total := used + available
	best := -1
	bestRemaining := 0
	for i, r := range s.Resources {
		if r.Available < total {
			continue
		}
		remaining := r.Available - total
		if best < 0 || remaining > bestRemaining {
			best, bestRemaining = i, remaining
		}
	}
	if best < 0 {
		return nil
	}
	r := s.Resources[best]
	r.Used += total
	r.Available -= total
	return &Result{
		Kind:       KindAllocate,
		Allocation: Allocation{ID: uuid.NewString(), Resource: r.ID, Used: used, Available: available},
		Resource:   r,
	}
}

// Allocator resolves a request in three tiers: expand a preferred allocation, expand any
// allocation, then allocate a fresh one with Reserve headroom.
func Allocator(s State, req Request) *Result {
	if len(req.Preferred) > 0 {
		preferred := make(map[string]bool, len(req.Preferred))
		for _, id := range req.Preferred {
			preferred[id] = true
		}
		restricted := State{Resources: s.Resources}
		for _, a := range s.Allocations {
			if preferred[a.ID] {
				restricted.Allocations = append(restricted.Allocations, a)
			}
		}
		if res := Expand(restricted, req.Amount); res != nil {
			return res
		}
	}
	if res := Expand(s, req.Amount); res != nil {
		return res
	}
	return Allocate(s, req.Amount, req.Reserve)
}

// Apply returns a copy of s with res written back.
func Apply(s State, res *Result) State {
	out := State{
		Resources:   make([]Resource, len(s.Resources)),
		Allocations: make([]Allocation, 0, len(s.Allocations)+1),
	}
	copy(out.Resources, s.Resources)
	if res == nil {
		out.Allocations = append(out.Allocations, s.Allocations...)
		return out
	}
	for i, r := range out.Resources {
		if r.ID == res.Resource.ID {
			out.Resources[i] = res.Resource
		}
	}
	replaced := false
	for _, a := range s.Allocations {
		if a.ID == res.Allocation.ID {
			a = res.Allocation
			replaced = true
		}
		out.Allocations = append(out.Allocations, a)
	}
	if !replaced {
		out.Allocations = append(out.Allocations, res.Allocation)
	}
	return out
}
