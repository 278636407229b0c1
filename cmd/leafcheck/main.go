package main

import "github.com/MeKo-Tech/leafcheck/cmd/leafcheck/cmd"

func main() {
	cmd.Execute()
}
