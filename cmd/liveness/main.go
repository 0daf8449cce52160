package main

import (
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/cmd/liveness/cmd"
)

func main() {
	cmd.Execute()
}
