package main

import "github.com/tg4nd4lf/ssh-template/cmd"

func main() {
	cmd.Execute()
}
