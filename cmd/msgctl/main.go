package main

import (
	"os"

	"e2ee-messaging/cmd/msgctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
