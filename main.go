package main

import "github.com/yieldbridge/yieldbridge/node/cmd"

func main() {
	cmd.Execute()
}
