package main

import "github.com/llmc-dev/llmc/cmd"

func main() {
	cmd.Execute()
}
