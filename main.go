package main

import "github.com/audiolibrelab/echoid/cmd"

func main() {
	cmd.Execute()
}
