package main

import "github.com/ValentinKolb/rawnet/cmd"

func main() {
	cmd.Execute()
}
