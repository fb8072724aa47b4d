package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/drksbr/intratun/internal/cli"
)

func main() {
	_ = godotenv.Overload(".env")

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
