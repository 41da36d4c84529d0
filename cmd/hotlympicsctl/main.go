package main

import "hotlympics/cmd/hotlympicsctl/cli"

func main() {
	cli.Execute()
}
