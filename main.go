package main

import "github.com/encodeous/nhdp/cmd"

func main() {
	cmd.Execute()
}
