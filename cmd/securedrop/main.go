package main

import "secure_drop/internal/cli"

func main() {
	cli.Execute()
}
