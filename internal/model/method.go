package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Method is a backgrounding method. Numeric values match the ones persisted by
// older preference files.
type Method int

const (
	MethodOff Method = iota
	MethodNative
	MethodBackgrounder
	MethodAutoDetect
)

var methodNames = map[Method]string{
	MethodOff:          "off",
	MethodNative:       "native",
	MethodBackgrounder: "backgrounder",
	MethodAutoDetect:   "autodetect",
}

// String returns the persisted name of the method.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// ParseMethod accepts either a method name or its numeric value.
func ParseMethod(s string) (Method, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	// "simulated" is the name the policy docs use for the backgrounder technique.
	if s == "simulated" {
		return MethodBackgrounder, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		m := Method(n)
		if m.Valid() {
			return m, nil
		}
	}
	return MethodOff, fmt.Errorf("unknown backgrounding method %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid backgrounding method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalTOML lets preference files carry the method either as a name or as
// the integer written by older releases.
func (m *Method) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		return m.UnmarshalText([]byte(val))
	case int64:
		parsed := Method(val)
		if !parsed.Valid() {
			return fmt.Errorf("unknown backgrounding method %d", val)
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("backgrounding method: unsupported value type %T", v)
	}
}
