package main

import (
	"context"
	"tinysync-backend/cmd/tinysync-cli/commands"
	"tinysync-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "tinysync-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
