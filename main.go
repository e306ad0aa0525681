package main

import "github.com/nextlevelbuilder/agentgateway/cmd"

func main() {
	cmd.Execute()
}
