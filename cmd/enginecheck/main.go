package main

import (
	"log"
	"os"

	"github.com/park285/cheese-arena/internal/enginecli"
)

func main() {
	root := enginecli.Root()
	root.SetArgs(os.Args[1:])
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
