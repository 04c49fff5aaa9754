package main

import "github.com/zilonglicfd/fieldinv/cmd"

func main() {
	cmd.Execute()
}
