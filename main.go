package main

import "github.com/kbrapp1/sourcebatch/cmd"

func main() {
	cmd.Execute()
}
