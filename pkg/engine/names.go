package engine

import (
	"fmt"
	"strings"
)

// Wire names. Display formatting lives with the renderers.
var (
	directionNames = map[Direction]string{
		Read:  "read",
		Write: "write",
	}
	orderNames = map[BlockOrder]string{
		Sequential: "sequential",
		Random:     "random",
	}
	workloadNames = map[Workload]string{
		WorkloadWrite:     "write",
		WorkloadRead:      "read",
		WorkloadReadWrite: "read_write",
	}
	engineNames = map[EngineType]string{
		EngineBuffered: "buffered",
		EngineDirect:   "direct",
		EngineUring:    "uring",
	}
)

func lookup[T comparable](names map[T]string, v T) string {
	if s, ok := names[v]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%v)", v)
}

func parse[T comparable](names map[T]string, kind, s string) (T, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for v, name := range names {
		if name == norm {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, s)
}

func DirectionName(d Direction) string { return lookup(directionNames, d) }
func OrderName(o BlockOrder) string { return lookup(orderNames, o) }
func WorkloadName(w Workload) string { return lookup(workloadNames, w) }
func EngineName(e EngineType) string { return lookup(engineNames, e) }

func ParseDirection(s string) (Direction, error) { return parse(directionNames, "direction", s) }
func ParseOrder(s string) (BlockOrder, error) { return parse(orderNames, "block order", s) }
func ParseWorkload(s string) (Workload, error) { return parse(workloadNames, "workload", s) }
func ParseEngine(s string) (EngineType, error) { return parse(engineNames, "engine", s) }

func (d Direction) MarshalText() ([]byte, error) { return []byte(DirectionName(d)), nil }
func (d *Direction) UnmarshalText(b []byte) (err error) {
	*d, err = ParseDirection(string(b))
	return err
}

func (o BlockOrder) MarshalText() ([]byte, error) { return []byte(OrderName(o)), nil }
func (o *BlockOrder) UnmarshalText(b []byte) (err error) {
	*o, err = ParseOrder(string(b))
	return err
}

func (w Workload) MarshalText() ([]byte, error) { return []byte(WorkloadName(w)), nil }
func (w *Workload) UnmarshalText(b []byte) (err error) {
	*w, err = ParseWorkload(string(b))
	return err
}

func (e EngineType) MarshalText() ([]byte, error) { return []byte(EngineName(e)), nil }
func (e *EngineType) UnmarshalText(b []byte) (err error) {
	*e, err = ParseEngine(string(b))
	return err
}
