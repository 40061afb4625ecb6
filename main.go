package main

import (
	"github.com/bandpassrecords/scgate/cmd"
)

func main() {
	cmd.Execute()
}
