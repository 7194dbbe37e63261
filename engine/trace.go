package engine

import (
	"strconv"
	"strings"

	"github.com/wippyai/wrt/wasm"
)

// StackTrace renders the live call chain, innermost frame first, for
// trap diagnostics and the inspector. Function names come from export
// names when one matches; otherwise the function index is shown.
func (e *Engine) StackTrace() string {
	frames := e.frames.Items()
	if len(frames) == 0 {
		return "(no frames)"
	}

	var b strings.Builder
	for i := len(frames) - 1; i >= 0; i-- {
		f := &frames[i]
		b.WriteByte('#')
		b.WriteString(strconv.Itoa(len(frames) - 1 - i))
		b.WriteByte(' ')
		b.WriteString(e.funcName(f.FuncIdx))
		b.WriteString(" pc=")
		b.WriteString(strconv.FormatUint(uint64(f.PC), 10))
		if int(f.PC) < len(f.body) {
			b.WriteString(" (")
			b.WriteString(opcodeName(f.body[f.PC].Opcode))
			b.WriteByte(')')
		}
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// funcName resolves a function index to an export name when possible.
func (e *Engine) funcName(funcIdx uint32) string {
	for _, exp := range e.inst.Image.Exports {
		if exp.Kind == wasm.KindFunc && exp.Idx == funcIdx {
			return exp.Name
		}
	}
	return "func[" + strconv.FormatUint(uint64(funcIdx), 10) + "]"
}
