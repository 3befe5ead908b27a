// Command wasmcmd runs sandboxed wasm plugins as CLI commands.
package main

import (
	"fmt"
	"os"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == 0 {
			code = int(entities.ExitSystemError)
		}
	}
	os.Exit(code)
}

// exitCodeFor maps error classes onto the process exit code. User
// errors from plugins keep their own code; everything the host or
// sandbox rejects is a system error.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.IsCommandNotFound(err) {
		return int(entities.ExitUserError)
	}
	return int(entities.ExitSystemError)
}
