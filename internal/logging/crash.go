package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// crashOutput receives crash reports. Tests swap it out.
var crashOutput io.Writer = os.Stderr

// FormatCrashReport renders a panic value and its stack for the operator.
func FormatCrashReport(value any, stack []byte) string {
	var b strings.Builder
	b.WriteString("gpsh crashed\n")
	b.WriteString("------------\n")
	fmt.Fprintf(&b, "When:     %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Runtime:  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(&b, "Module:   %s %s\n", info.Main.Path, info.Main.Version)
	}
	fmt.Fprintf(&b, "Panic:    %v\n\n", value)
	b.Write(stack)
	if len(stack) > 0 && stack[len(stack)-1] != '\n' {
		b.WriteByte('\n')
	}
	return b.String()
}

// RecoverAndLog is deferred at the top of a goroutine. A panic is logged,
// reported and written to stderr; with rePanic the process still dies.
//
//	defer logging.RecoverAndLog("main", true)
func RecoverAndLog(where string, rePanic bool) {
	r := recover()
	if r == nil {
		return
	}
	stack := debug.Stack()

	CapturePanic(r, stack, where)
	Error(CatSystem, fmt.Sprintf("PANIC in %s: %v", where, r), map[string]any{
		"panic": fmt.Sprint(r),
	})
	fmt.Fprint(crashOutput, FormatCrashReport(r, stack))

	if rePanic {
		panic(r)
	}
}
