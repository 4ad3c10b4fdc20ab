package main

import (
	"github.com/shizukutanaka/logpulse/cmd/logpulse/commands"
)

func main() {
	commands.Execute()
}
