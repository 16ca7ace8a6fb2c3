package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter names understood by the executor and the preference commands.
const (
	ParamStatus          = "status"
	ParamInReplyToID     = "in_reply_to_id"
	ParamPreferenceKey   = "preference_key"
	ParamPreferenceValue = "preference_value"
	// ParamPreferenceScope names the account whose preferences are written.
	// Empty means the global preferences.
	ParamPreferenceScope = "preference_scope"
)

// Command is one unit of background work. It is immutable after
// construction: the parameter bag is copied in and out.
type Command struct {
	Kind   Kind
	ItemID int64
	params map[string]any
}

// Key is the dedup identity of a command. Two commands are duplicates iff
// their keys are equal.
type Key struct {
	Kind    Kind
	ItemID  int64
	Payload string
}

func NewCommand(kind Kind, itemID int64, params map[string]any) Command {
	c := Command{Kind: kind, ItemID: itemID}
	if len(params) > 0 {
		c.params = make(map[string]any, len(params))
		for k, v := range params {
			c.params[k] = v
		}
	}
	return c
}

// NewUpdateStatus builds an update-status command.
func NewUpdateStatus(text string, inReplyToID int64) Command {
	return NewCommand(KindUpdateStatus, 0, map[string]any{
		ParamStatus:      text,
		ParamInReplyToID: inReplyToID,
	})
}

// NewPutPreference builds one of the put-*-preference commands. The kind is
// derived from the dynamic type of value.
func NewPutPreference(scope, key string, value any) (Command, error) {
	var kind Kind
	switch v := value.(type) {
	case bool:
		kind = KindPutBooleanPreference
	case int:
		kind = KindPutLongPreference
		value = int64(v)
	case int64:
		kind = KindPutLongPreference
	case string:
		kind = KindPutStringPreference
	default:
		return Command{}, fmt.Errorf("unsupported preference value type %T", value)
	}
	return NewCommand(kind, 0, map[string]any{
		ParamPreferenceScope: scope,
		ParamPreferenceKey:   key,
		ParamPreferenceValue: value,
	}), nil
}

// Params returns a copy of the parameter bag.
func (c Command) Params() map[string]any {
	out := make(map[string]any, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

func (c Command) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

func (c Command) StringParam(name string) string {
	v, ok := c.params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64Param accepts the numeric shapes produced by YAML and JSON decoders.
func (c Command) Int64Param(name string) int64 {
	switch v := c.params[name].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func (c Command) BoolParam(name string) bool {
	switch v := c.params[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case int, int64, float64:
		return c.Int64Param(name) != 0
	default:
		return false
	}
}

// Key derives the dedup identity. The payload is the status text for
// update-status and key+scope+value for the preference commands.
func (c Command) Key() Key {
	k := Key{Kind: c.Kind, ItemID: c.ItemID}
	switch {
	case c.Kind == KindUpdateStatus:
		k.Payload = c.StringParam(ParamStatus)
	case c.Kind.IsPreference():
		k.Payload = c.StringParam(ParamPreferenceKey) + "\x00" +
			c.StringParam(ParamPreferenceScope) + "\x00" +
			c.StringParam(ParamPreferenceValue)
	}
	return k
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString("command=")
	b.WriteString(string(c.Kind))
	if c.ItemID != 0 {
		fmt.Fprintf(&b, " id=%d", c.ItemID)
	}
	switch {
	case c.Kind == KindUpdateStatus:
		fmt.Fprintf(&b, " status=%q", c.StringParam(ParamStatus))
		if r := c.Int64Param(ParamInReplyToID); r != 0 {
			fmt.Fprintf(&b, " in_reply_to=%d", r)
		}
	case c.Kind.IsPreference():
		fmt.Fprintf(&b, " key=%s value=%s", c.StringParam(ParamPreferenceKey), c.StringParam(ParamPreferenceValue))
		if s := c.StringParam(ParamPreferenceScope); s != "" {
			fmt.Fprintf(&b, " scope=%s", s)
		}
	}
	return b.String()
}
