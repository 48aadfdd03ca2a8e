package main

import "github.com/unixpickle/styletransfer/internal/cmd"

func main() {
	cmd.Execute()
}
