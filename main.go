package main

import "github.com/annchain/ogbft/app/cmd"

func main() {
	cmd.Execute()
}
