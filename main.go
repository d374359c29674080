package main

import "github.com/frahmantamala/purchase-approval/cmd"

func main() {
	cmd.Execute()
}
