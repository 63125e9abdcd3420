package main

import (
	"github.com/opensvc/blkcache/cmd"
)

func main() {
	cmd.Execute()
}
