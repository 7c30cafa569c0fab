package main

import "github.com/vietddude/chatwatch/internal/cli"

func main() {
	cli.Execute()
}
