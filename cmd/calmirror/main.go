package main

import (
	"context"
	"os"

	"calmirror/internal/cli"
	appLog "calmirror/internal/log"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		appLog.Error("calmirror failed", err)
		os.Exit(1)
	}
}
