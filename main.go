package main

import "vidextract/cmd"

func main() {
	cmd.Execute()
}
