package main

import "github.com/ppiankov/hostwarden/internal/cli"

func main() {
	cli.Execute()
}
