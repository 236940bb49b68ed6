package main

import "github.com/OpenTraceLab/cpldupdate/cmd/cpldupdate/cmd"

func main() {
	cmd.Execute()
}
