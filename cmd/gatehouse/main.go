package main

import "github.com/mknight/gatehouse/cmd/gatehouse/cmd"

func main() {
	cmd.Execute()
}
