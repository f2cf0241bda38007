package main

import "github.com/vietddude/erawatcher/internal/cli"

func main() {
	cli.Execute()
}
