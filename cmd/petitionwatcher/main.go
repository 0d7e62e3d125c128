package main

import "petition-watcher/internal/cli"

func main() {
	cli.Execute()
}
