package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// LuaEnv provides a sandboxed Lua evaluation environment with state
	// pooling. Workflow variables are bound as locals by name, so scripts
	// and expressions reference them directly
	LuaEnv struct {
		statePool chan *lua.State
		scripts   sync.Map
	}

	// CompiledChunk is a compiled Lua chunk bound to an ordered set of
	// variable names
	CompiledChunk struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaChunkSeparator   = "\n"
	luaGlobalTableName  = "_G"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a new Lua evaluation environment with a state pool
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// CompileExpression compiles a boolean-valued expression for the given
// variable names. The expression is wrapped in a return statement
func (e *LuaEnv) CompileExpression(
	expr string, vars api.Vars,
) (*CompiledChunk, error) {
	return e.compileCached("return ("+expr+")", bindableNames(vars))
}

// CompileScript compiles a multi-statement script body for the given
// variable names. The body is responsible for returning a value
func (e *LuaEnv) CompileScript(
	script string, vars api.Vars,
) (*CompiledChunk, error) {
	return e.compileCached(script, bindableNames(vars))
}

// Eval runs a compiled chunk against the variable map and returns the
// chunk's result as a Go value
func (e *LuaEnv) Eval(c *CompiledChunk, vars api.Vars) (any, error) {
	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	for _, name := range c.argNames {
		pushLuaArg(L, vars, name)
	}

	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := luaToGo(L, -1)
	L.Pop(1)
	return result, nil
}

func (e *LuaEnv) compileCached(
	src string, argNames []string,
) (*CompiledChunk, error) {
	key := src + "\x00" + strings.Join(argNames, "\x00")

	if val, ok := e.scripts.Load(key); ok {
		return val.(*CompiledChunk), nil
	}

	c, err := e.compile(src, argNames)
	if err == nil {
		e.scripts.Store(key, c)
	}
	return c, err
}

func (e *LuaEnv) compile(
	src string, argNames []string,
) (*CompiledChunk, error) {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}

	full := strings.Join([]string{
		strings.Join(argLocals, luaChunkSeparator), src,
	}, luaChunkSeparator)

	L := lua.NewState()
	e.setupSandbox(L)

	if err := lua.LoadString(L, full); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, err
	}

	return &CompiledChunk{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *LuaEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

// Close drains the state pool. States handed out after Close are
// discarded when returned
func (e *LuaEnv) Close() {
	for {
		select {
		case <-e.statePool:
		default:
			return
		}
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

// bindableNames returns the sorted variable names that form valid Lua
// identifiers. Reserved engine variables carry a __ prefix, which Lua
// accepts as an identifier
func bindableNames(vars api.Vars) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if isLuaIdentifier(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func isLuaIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func pushLuaArg(L *lua.State, vars api.Vars, argName string) {
	if value, ok := vars[argName]; ok {
		goToLua(L, value)
		return
	}
	L.PushNil()
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case api.Vars:
		pushLuaMap(L, v)
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch {
	case L.IsNil(index):
		return nil
	case L.IsBoolean(index):
		return L.ToBoolean(index)
	case L.IsNumber(index):
		return luaNumberToGo(L, index)
	case L.IsString(index):
		s, _ := L.ToString(index)
		return s
	case L.IsTable(index):
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(1)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		var key string
		if !L.IsString(-2) {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
			result[key] = luaToGo(L, -1)
			L.Pop(1)
			continue
		}
		key, _ = L.ToString(-2)
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}

	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
