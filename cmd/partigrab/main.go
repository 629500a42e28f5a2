package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; settings may come from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARN: reading .env: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
