package main

import "github.com/actiongate/actiongate/cmd/actiongate/cmd"

func main() {
	cmd.Execute()
}
