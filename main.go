package main

import "github.com/LoveWonYoung/iso15765proxy/cmd/isotpctl/cmd"

func main() {
	cmd.Execute()
}
