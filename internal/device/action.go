package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionType is the tag of a button mapping.
type ActionType uint32

const (
	ActionNone    ActionType = 0
	ActionButton  ActionType = 1
	ActionSpecial ActionType = 2
	ActionKey     ActionType = 3
	ActionMacro   ActionType = 4
	ActionUnknown ActionType = 1000
)

// AllActionTypes lists every assignable action type in tag order.
var AllActionTypes = []ActionType{ActionNone, ActionButton, ActionSpecial, ActionKey, ActionMacro}

var actionNames = map[ActionType]string{
	ActionNone:    "none",
	ActionButton:  "button",
	ActionSpecial: "special",
	ActionKey:     "key",
	ActionMacro:   "macro",
	ActionUnknown: "unknown",
}

func (t ActionType) String() string {
	if s, ok := actionNames[t]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint32(t))
}

// ParseActionType maps the textual names used by injection specs and the CLI.
func ParseActionType(s string) (ActionType, error) {
	for t, name := range actionNames {
		if name == s && t != ActionUnknown {
			return t, nil
		}
	}
	return 0, invalidf("action type %q", s)
}

// Action is a button mapping. The concrete types are NoneAction, ButtonAction,
// SpecialAction, KeyAction and MacroAction; consumers switch on them.
type Action interface {
	Type() ActionType
	isAction()
}

type NoneAction struct{}

type ButtonAction struct{ Button uint32 }

type SpecialAction struct{ Special uint32 }

type KeyAction struct{ Key uint32 }

// MacroEvent is one step of a macro: a keycode held for Duration milliseconds.
type MacroEvent struct {
	Keycode  uint32
	Duration uint32
}

type MacroAction struct{ Events []MacroEvent }

func (NoneAction) Type() ActionType    { return ActionNone }
func (ButtonAction) Type() ActionType  { return ActionButton }
func (SpecialAction) Type() ActionType { return ActionSpecial }
func (KeyAction) Type() ActionType     { return ActionKey }
func (MacroAction) Type() ActionType   { return ActionMacro }

func (NoneAction) isAction()    {}
func (ButtonAction) isAction()  {}
func (SpecialAction) isAction() {}
func (KeyAction) isAction()     {}
func (MacroAction) isAction()   {}

// NewAction builds a single-code action. Macros carry a sequence and must be
// built with NewMacro; asking for one here is a shape mismatch.
func NewAction(t ActionType, code uint32) (Action, error) {
	switch t {
	case ActionNone:
		return NoneAction{}, nil
	case ActionButton:
		return ButtonAction{Button: code}, nil
	case ActionSpecial:
		return SpecialAction{Special: code}, nil
	case ActionKey:
		return KeyAction{Key: code}, nil
	case ActionMacro:
		return nil, invalidf("macro mapping needs a (keycode, duration) sequence")
	default:
		return nil, invalidf("action type %d", uint32(t))
	}
}

// NewMacro copies events so the caller can reuse its slice.
func NewMacro(events []MacroEvent) MacroAction {
	return MacroAction{Events: append([]MacroEvent(nil), events...)}
}

// MacroFromPairs builds a macro from [keycode, duration] pairs. Every pair
// must have exactly two elements.
func MacroFromPairs(pairs [][]uint32) (MacroAction, error) {
	events := make([]MacroEvent, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return MacroAction{}, invalidf("macro event %d: want [keycode, duration], got %d values", i, len(p))
		}
		events[i] = MacroEvent{Keycode: p[0], Duration: p[1]}
	}
	return MacroAction{Events: events}, nil
}

// Code returns the single integer payload of a non-macro action.
func Code(a Action) uint32 {
	switch v := a.(type) {
	case ButtonAction:
		return v.Button
	case SpecialAction:
		return v.Special
	case KeyAction:
		return v.Key
	default:
		return 0
	}
}

func cloneAction(a Action) Action {
	switch v := a.(type) {
	case nil:
		return NoneAction{}
	case MacroAction:
		return NewMacro(v.Events)
	default:
		return v
	}
}

type actionWire struct {
	Type  ActionType      `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalAction encodes a mapping as {"type": t, "value": v}, where v is an
// integer or, for macros, a list of [keycode, duration] pairs.
func MarshalAction(a Action) ([]byte, error) {
	w := actionWire{Type: ActionNone, Value: json.RawMessage("0")}
	switch v := a.(type) {
	case nil, NoneAction:
	case MacroAction:
		pairs := make([][2]uint32, len(v.Events))
		for i, ev := range v.Events {
			pairs[i] = [2]uint32{ev.Keycode, ev.Duration}
		}
		raw, err := json.Marshal(pairs)
		if err != nil {
			return nil, err
		}
		w.Type, w.Value = ActionMacro, raw
	default:
		w.Type = v.Type()
		w.Value = json.RawMessage(fmt.Sprintf("%d", Code(v)))
	}
	return json.Marshal(w)
}

// UnmarshalAction decodes the MarshalAction form. A payload whose shape does
// not agree with the tag is rejected with ErrInvalidArgument.
func UnmarshalAction(data []byte) (Action, error) {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, invalidf("mapping: %v", err)
	}
	return decodeActionValue(w.Type, w.Value)
}

func decodeActionValue(t ActionType, raw json.RawMessage) (Action, error) {
	raw = bytes.TrimSpace(raw)
	if t == ActionMacro {
		var pairs [][]uint32
		if len(raw) == 0 || raw[0] != '[' {
			return nil, invalidf("macro mapping needs a list of [keycode, duration] pairs")
		}
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return nil, invalidf("macro mapping: %v", err)
		}
		m, err := MacroFromPairs(pairs)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	var code uint32
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &code); err != nil {
			return nil, invalidf("%s mapping needs an integer code: %v", t, err)
		}
	}
	return NewAction(t, code)
}
