package main

import "github.com/mkdir700/pi-team/internal/cli"

func main() {
	cli.Execute()
}
