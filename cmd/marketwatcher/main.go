package main

import "market-watcher/internal/cli"

func main() {
	cli.Execute()
}
