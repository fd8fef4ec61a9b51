package main

import "catalyst-catcher/internal/cli"

func main() {
	cli.Execute()
}
