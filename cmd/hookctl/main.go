package main

import (
	"log"

	"github.com/courseloop/hookrelay/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
