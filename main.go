package main

import "harmony/cmd"

func main() {
	cmd.Execute()
}
