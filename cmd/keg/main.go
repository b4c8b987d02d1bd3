package main

import "github.com/fluxxu/keg/cmd/keg/cmd"

func main() {
	cmd.Execute()
}
