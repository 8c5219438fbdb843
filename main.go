package main

import "github.com/ValentinKolb/lockwatch/cmd"

func main() {
	cmd.Execute()
}
