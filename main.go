package main

import "github.com/nextlevelbuilder/famledger/cmd"

func main() {
	cmd.Execute()
}
