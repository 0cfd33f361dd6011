package main

import "github.com/rand/hsml-launch/internal/cmd"

func main() {
	cmd.Execute()
}
