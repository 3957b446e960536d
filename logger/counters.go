package logger

import (
	"sort"
	"sync"
	"sync/atomic"
)

type componentCounters struct {
	warns  atomic.Int64
	errors atomic.Int64
}

var counters sync.Map // component -> *componentCounters

// ComponentCount is the number of warnings and errors a component logged since start.
type ComponentCount struct {
	Component string `json:"component"`
	Warns     int64  `json:"warns"`
	Errors    int64  `json:"errors"`
}

func countersFor(component string) *componentCounters {
	v, _ := counters.LoadOrStore(component, &componentCounters{})
	return v.(*componentCounters)
}

func recordWarn(component string) {
	countersFor(component).warns.Add(1)
}

func recordError(component string) {
	countersFor(component).errors.Add(1)
}

// Counts returns the warn/error tallies per component, sorted by component name.
func Counts() []ComponentCount {
	out := make([]ComponentCount, 0)
	counters.Range(func(key, value any) bool {
		c := value.(*componentCounters)
		out = append(out, ComponentCount{
			Component: key.(string),
			Warns:     c.warns.Load(),
			Errors:    c.errors.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}
