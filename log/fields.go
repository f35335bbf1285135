package log

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameFunction  = "function"
	FieldNameCode      = "code"
	FieldNameAddr      = "addr"
)

func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldFunction names the bound function a line is about.
func FieldFunction(name string) zap.Field {
	return zap.String(FieldNameFunction, name)
}

// FieldCode records a reply status code.
func FieldCode(code fmt.Stringer) zap.Field {
	return zap.Stringer(FieldNameCode, code)
}

func FieldAddr(addr string) zap.Field {
	return zap.String(FieldNameAddr, addr)
}
