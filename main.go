package main

import "github.com/emrgen/newsimport/cmd"

func main() {
	cmd.Execute()
}
