package main

import "github.com/example/faceauth/cmd"

func main() {
	cmd.Execute()
}
