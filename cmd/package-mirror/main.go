package main

import "package-mirror/internal/cli"

func main() {
	cli.Execute()
}
