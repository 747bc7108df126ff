package main

import (
	"context"
	"os"

	appLog "vdircal/internal/log"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		appLog.Error("vdircal failed", err)
		os.Exit(1)
	}
}
