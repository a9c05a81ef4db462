// Command tasknest manages tasks and goals and fires their reminders.
package main

import (
	"os"

	"tasknest/cmd/tasknest/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
