package luaplug

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/flowsense/internal/session"
)

// fromLua converts a Lua value into its Go equivalent. Tables with only
// positive integer keys become slices, everything else becomes a string
// keyed map. Unsupported types collapse to their string form.
func fromLua(v lua.LValue) any {
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		return fromLuaTable(lv)
	default:
		return v.String()
	}
}

func fromLuaTable(t *lua.LTable) any {
	if n := t.Len(); n > 0 {
		list := make([]any, 0, n)
		isList := true
		t.ForEach(func(k, v lua.LValue) {
			if _, ok := k.(lua.LNumber); !ok {
				isList = false
			}
		})
		if isList {
			for i := 1; i <= n; i++ {
				list = append(list, fromLua(t.RawGetInt(i)))
			}
			return list
		}
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = fromLua(v)
	})
	return m
}

// toLua converts a Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(gv)
	case int:
		return lua.LNumber(gv)
	case int64:
		return lua.LNumber(gv)
	case float64:
		return lua.LNumber(gv)
	case string:
		return lua.LString(gv)
	case map[string]any:
		t := L.NewTable()
		for k, val := range gv {
			t.RawSetString(k, toLua(L, val))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, val := range gv {
			t.Append(toLua(L, val))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", gv))
	}
}

func sessionAction(typ string, success bool, duration time.Duration) session.Action {
	return session.Action{
		Type:      typ,
		Timestamp: time.Now(),
		Duration:  duration,
		Success:   success,
	}
}
