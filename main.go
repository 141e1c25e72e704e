package main

import "github.com/jmehdipour/label-dispatch/cmd"

func main() {
	cmd.Execute()
}
