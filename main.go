package main

import "github.com/dbmirror/dbmirror/cmd"

func main() {
	cmd.Execute()
}
