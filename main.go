package main

import "github.com/gptsh/gptsh/cmd"

func main() {
	cmd.Execute()
}
