package main

import (
	"github.com/richardkyk/radio/cmd"
	"github.com/richardkyk/radio/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
