// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/relstore/cmd/relstored/cmd"
)

func main() {
	cmd.Execute()
}
