package main

import "github.com/mazi76erX2/vault-sub000/internal/cli"

func main() {
	cli.Execute()
}
