package main

import "chatroom/cmd"

func main() {
	cmd.Execute()
}
