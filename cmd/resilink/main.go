package main

import "github.com/vietddude/resilink/internal/cli"

func main() {
	cli.Execute()
}
