package main

import "woeplanet/reconciler/cmd"

func main() {
	cmd.Execute()
}
