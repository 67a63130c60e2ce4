package main

import (
	"go-civitai-fetch/cmd/civitai-fetch/cmd"
)

func main() {
	cmd.Execute()
}
