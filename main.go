package main

import "github.com/shaharia-lab/taskrun/cmd"

func main() {
	cmd.Execute()
}
