// The main package for the smswatch executable.
package main

import (
	"github.com/dkozyrev/smswatch/cmd"
)

func main() {
	cmd.Execute()
}
