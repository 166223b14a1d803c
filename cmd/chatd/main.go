package main

import (
	"errors"
	"io/fs"
	"log"

	"campusconnect/cmd/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; anything else (bad syntax, permissions) is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
