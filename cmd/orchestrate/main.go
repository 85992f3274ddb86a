// Command orchestrate drives an obot orchestration session from the shell.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cadenroberts/OllamaBot-sub000/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		os.Exit(cli.ExitSuccess)
	}

	// Commands report their own failures; only cobra's argument errors
	// reach stderr here.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
