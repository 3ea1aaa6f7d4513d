package main

import "slotkeeper/cli"

func main() {
	cli.Execute()
}
