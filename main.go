package main

import "github.com/dbergol/soundmexpro-sub001/cmd"

func main() {
	cmd.Execute()
}
