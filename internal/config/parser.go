package config

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
)

// ParseError represents a config parsing error with a friendly message.
type ParseError struct {
	Message string // user-friendly message
	Detail  string // technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile parses a Lua config file.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseString(string(data))
}

// ParseString parses a Lua config from a string. Useful for testing and
// in-memory configs.
func ParseString(luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractConfig(L)
}

// extractConfig expects a global "provenant" table with the config
// structure.
func extractConfig(L *lua.LState) (*Config, error) {
	rootVal := L.GetGlobal("provenant")
	if rootVal.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'provenant' table",
			Detail:  fmt.Sprintf("expected table, got %s", rootVal.Type()),
		}
	}
	table := rootVal.(*lua.LTable)

	cfg := &Config{}

	if v := table.RawGetString("state_dir"); v.Type() == lua.LTString {
		cfg.StateDir = v.String()
	}

	if v := table.RawGetString("scopes"); v.Type() == lua.LTTable {
		scopes, err := extractScopes(v.(*lua.LTable))
		if err != nil {
			return nil, err
		}
		cfg.Scopes = scopes
	}

	if v := table.RawGetString("trusted_roots"); v.Type() == lua.LTTable {
		cfg.TrustedRoots = extractStrings(v.(*lua.LTable))
	}

	if v := table.RawGetString("capabilities"); v.Type() == lua.LTTable {
		cfg.Capabilities = extractStrings(v.(*lua.LTable))
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	return cfg, nil
}

// extractScopes reads the scopes array. Each entry is either a plain
// string (a root scope) or a table {name=..., parent=...}.
func extractScopes(table *lua.LTable) ([]ScopeDef, error) {
	var scopes []ScopeDef
	var parseErr error

	table.ForEach(func(_, value lua.LValue) {
		if parseErr != nil {
			return
		}
		switch v := value.(type) {
		case lua.LString:
			scopes = append(scopes, ScopeDef{Name: v.String()})
		case *lua.LTable:
			def := ScopeDef{}
			if name := v.RawGetString("name"); name.Type() == lua.LTString {
				def.Name = name.String()
			}
			if parent := v.RawGetString("parent"); parent.Type() == lua.LTString {
				def.Parent = parent.String()
			}
			scopes = append(scopes, def)
		default:
			parseErr = &ParseError{
				Message: "invalid scope entry",
				Detail:  fmt.Sprintf("expected string or table, got %s", value.Type()),
			}
		}
	})

	return scopes, parseErr
}

// extractStrings reads a flat array of strings, skipping non-strings.
func extractStrings(table *lua.LTable) []string {
	var out []string
	table.ForEach(func(_, value lua.LValue) {
		if value.Type() == lua.LTString {
			out = append(out, value.String())
		}
	})
	return out
}
