package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM strips the Lua VM down to a declarative subset. Config
// files must not execute commands, touch the filesystem, or load code:
// - os (os.execute, os.exit, os.getenv, ...) is removed
// - io (io.open, io.popen, ...) is removed
// - require/dofile/loadfile/load/loadstring are removed
// - debug is removed since it can bypass the sandbox
//
// string, table, math, and the basic utilities (type, tostring, pairs,
// ipairs, ...) remain available.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates a Lua VM with the sandbox applied. This is the
// only way config parsing obtains a Lua state.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
