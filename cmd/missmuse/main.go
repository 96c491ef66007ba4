package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// Local .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()
	Execute()
}
