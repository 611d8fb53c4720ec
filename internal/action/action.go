// Package action implements the four top-level action opcodes a record
// accumulates (spec.md §4.8): DEPLOY, UPGRADE, NEW, CALL. Each carries the
// exact data shape the protocol requires byte-for-byte at replay time, plus
// the conversion to and from the exec-list shape commit/replay exchange
// over the wire (refs resolved to master-list indices).
//
// Grounded on internal/swap/coordinator_types.go's fixed-shape message/event
// enum pattern (SwapEvent{EventType string, Data interface{}}), generalized
// from one string-tagged payload to four strictly-shaped opcodes.
package action

import (
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/codec"
	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// Op names the four action opcodes.
type Op string

const (
	OpDeploy  Op = "DEPLOY"
	OpUpgrade Op = "UPGRADE"
	OpNew     Op = "NEW"
	OpCall    Op = "CALL"
)

// DeployPair is one (src, props) entry of a DEPLOY action.
type DeployPair struct {
	Src   string
	Props map[string]any
}

// Action is one top-level action a record carries, in live (pre-exec-list)
// form: refs are direct *creation.Creation pointers, not yet resolved to
// master-list indices.
type Action struct {
	Op Op

	// DEPLOY
	Deploys []DeployPair

	// UPGRADE
	Target *creation.Creation
	Src    string
	Props  map[string]any

	// NEW
	Class *creation.Creation
	Args  []any

	// CALL
	CallTarget *creation.Creation
	Method     string
	CallArgs   []any
}

// Deploy builds a DEPLOY action from an ordered list of source/props pairs.
func Deploy(pairs []DeployPair) Action {
	return Action{Op: OpDeploy, Deploys: pairs}
}

// Upgrade builds an UPGRADE action.
func Upgrade(target *creation.Creation, src string, props map[string]any) Action {
	return Action{Op: OpUpgrade, Target: target, Src: src, Props: props}
}

// New builds a NEW action.
func New(class *creation.Creation, args []any) Action {
	return Action{Op: OpNew, Class: class, Args: args}
}

// Call builds a CALL action.
func Call(target *creation.Creation, method string, args []any) Action {
	return Action{Op: OpCall, CallTarget: target, Method: method, CallArgs: args}
}

// Refs returns every creation reference the action carries, for the caller
// to fold into the record's ref/auth bookkeeping.
func (a Action) Refs() []*creation.Creation {
	switch a.Op {
	case OpUpgrade:
		return []*creation.Creation{a.Target}
	case OpNew:
		return []*creation.Creation{a.Class}
	case OpCall:
		return []*creation.Creation{a.CallTarget}
	default:
		return nil
	}
}

// Exec is the wire shape of one action once every ref has been resolved to
// a master-list index (spec.md §4.9 step 8: "each action rewritten to
// {op, data} with refs replaced by master-list indices").
type Exec struct {
	Op   Op    `json:"op"`
	Data []any `json:"data"`
}

// execShape is Exec's shape with Data left as raw JSON per element, so
// UnmarshalJSON can decode each position according to what that op puts
// there — in particular, turning the ref-shaped position(s) back into a
// codec.JigRef rather than the generic map[string]any encoding/json would
// otherwise produce for a `[]any` element (encoding/json only honors a
// custom UnmarshalJSON when the destination's static type requests it).
type execShape struct {
	Op   Op                `json:"op"`
	Data []json.RawMessage `json:"data"`
}

// refPositions names which Data indices are $jig references for each op,
// matching ToExec's per-op Data layout exactly.
var refPositions = map[Op][]int{
	OpUpgrade: {0},
	OpNew:     {0},
	OpCall:    {0},
}

// UnmarshalJSON decodes one exec entry recovered from a transaction's
// OP_RETURN metadata, restoring codec.JigRef at whichever Data position(s)
// this op's refPositions name.
func (e *Exec) UnmarshalJSON(data []byte) error {
	var shape execShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	isRef := make(map[int]bool)
	for _, i := range refPositions[shape.Op] {
		isRef[i] = true
	}
	out := make([]any, len(shape.Data))
	for i, raw := range shape.Data {
		if isRef[i] {
			var ref codec.JigRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return fmt.Errorf("action: decoding %s data[%d] as a $jig reference: %w", shape.Op, i, err)
			}
			out[i] = ref
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("action: decoding %s data[%d]: %w", shape.Op, i, err)
		}
		out[i] = v
	}
	e.Op = shape.Op
	e.Data = out
	return nil
}

// IndexOf resolves a creation to its master-list index.
type IndexOf func(c *creation.Creation) (int, error)

// ToExec converts a live action to its exec-list wire shape.
func ToExec(a Action, indexOf IndexOf) (Exec, error) {
	switch a.Op {
	case OpDeploy:
		data := make([]any, 0, len(a.Deploys)*2)
		for _, p := range a.Deploys {
			data = append(data, p.Src, p.Props)
		}
		return Exec{Op: OpDeploy, Data: data}, nil

	case OpUpgrade:
		idx, err := indexOf(a.Target)
		if err != nil {
			return Exec{}, err
		}
		return Exec{Op: OpUpgrade, Data: []any{codec.JigRef{Ref: idx}, a.Src, a.Props}}, nil

	case OpNew:
		idx, err := indexOf(a.Class)
		if err != nil {
			return Exec{}, err
		}
		return Exec{Op: OpNew, Data: []any{codec.JigRef{Ref: idx}, a.Args}}, nil

	case OpCall:
		idx, err := indexOf(a.CallTarget)
		if err != nil {
			return Exec{}, err
		}
		return Exec{Op: OpCall, Data: []any{codec.JigRef{Ref: idx}, a.Method, a.CallArgs}}, nil

	default:
		return Exec{}, fmt.Errorf("action: unknown op %q", a.Op)
	}
}

// ResolveRef looks up a master-list entry by index.
type ResolveRef func(idx int) (*creation.Creation, error)

// FromExec validates an exec entry's shape strictly (spec.md §4.10 step 6:
// "validate the data shape strictly — length, types, ref-indices in range")
// and converts it back to a live Action.
func FromExec(e Exec, resolve ResolveRef) (Action, error) {
	switch e.Op {
	case OpDeploy:
		if len(e.Data)%2 != 0 {
			return Action{}, fmt.Errorf("action: DEPLOY data must be an even-length list of (src, props) pairs, got %d", len(e.Data))
		}
		pairs := make([]DeployPair, 0, len(e.Data)/2)
		for i := 0; i < len(e.Data); i += 2 {
			src, ok := e.Data[i].(string)
			if !ok {
				return Action{}, fmt.Errorf("action: DEPLOY src at index %d must be a string", i)
			}
			props, ok := e.Data[i+1].(map[string]any)
			if !ok {
				return Action{}, fmt.Errorf("action: DEPLOY props at index %d must be an object", i+1)
			}
			pairs = append(pairs, DeployPair{Src: src, Props: props})
		}
		return Action{Op: OpDeploy, Deploys: pairs}, nil

	case OpUpgrade:
		if len(e.Data) != 3 {
			return Action{}, fmt.Errorf("action: UPGRADE data must have exactly 3 elements, got %d", len(e.Data))
		}
		target, err := resolveRefArg(e.Data[0], resolve)
		if err != nil {
			return Action{}, err
		}
		src, ok := e.Data[1].(string)
		if !ok {
			return Action{}, fmt.Errorf("action: UPGRADE src must be a string")
		}
		props, ok := e.Data[2].(map[string]any)
		if !ok {
			return Action{}, fmt.Errorf("action: UPGRADE props must be an object")
		}
		return Action{Op: OpUpgrade, Target: target, Src: src, Props: props}, nil

	case OpNew:
		if len(e.Data) != 2 {
			return Action{}, fmt.Errorf("action: NEW data must have exactly 2 elements, got %d", len(e.Data))
		}
		class, err := resolveRefArg(e.Data[0], resolve)
		if err != nil {
			return Action{}, err
		}
		args, ok := e.Data[1].([]any)
		if !ok {
			return Action{}, fmt.Errorf("action: NEW args must be an array")
		}
		return Action{Op: OpNew, Class: class, Args: args}, nil

	case OpCall:
		if len(e.Data) != 3 {
			return Action{}, fmt.Errorf("action: CALL data must have exactly 3 elements, got %d", len(e.Data))
		}
		target, err := resolveRefArg(e.Data[0], resolve)
		if err != nil {
			return Action{}, err
		}
		method, ok := e.Data[1].(string)
		if !ok {
			return Action{}, fmt.Errorf("action: CALL method must be a string")
		}
		args, ok := e.Data[2].([]any)
		if !ok {
			return Action{}, fmt.Errorf("action: CALL args must be an array")
		}
		return Action{Op: OpCall, CallTarget: target, Method: method, CallArgs: args}, nil

	default:
		return Action{}, fmt.Errorf("action: unknown op %q", e.Op)
	}
}

func resolveRefArg(v any, resolve ResolveRef) (*creation.Creation, error) {
	ref, ok := v.(codec.JigRef)
	if !ok {
		return nil, fmt.Errorf("action: expected a $jig reference, got %T", v)
	}
	idx, err := refIndex(ref.Ref)
	if err != nil {
		return nil, err
	}
	return resolve(idx)
}

// refIndex accepts both an in-process int (built directly by ToExec) and a
// JSON-round-tripped float64 (decoded off the chain via encoding/json,
// which always produces float64 for numbers) so FromExec works identically
// whether fed a live commit's ExecList or metadata recovered from a raw
// transaction's OP_RETURN.
func refIndex(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("action: $jig reference index %v is not a whole number", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("action: $jig reference index must be a number, got %T", v)
	}
}
