package main

import "snapshelf/internal/cli"

func main() {
	cli.Execute()
}
