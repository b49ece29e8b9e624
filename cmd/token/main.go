package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/token"
)

type credentials struct {
	APIKey    string `env:"STREAM_API_KEY,notEmpty"`
	APISecret string `env:"STREAM_API_SECRET,notEmpty"`
}

func main() {
	userID := flag.String("user", "", "User id to issue the token for")
	ttl := flag.Duration("ttl", 0, "Token lifetime, zero for no expiry")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		os.Exit(2)
	}

	var creds credentials
	if err := env.Parse(&creds); err != nil {
		fmt.Fprintf(os.Stderr, "error: could not find API keys: %v\n", err)
		os.Exit(1)
	}

	issuer, err := token.NewIssuer(creds.APIKey, creds.APISecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	t, err := issuer.UserToken(*userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "token for %s:\n", *userID)
	fmt.Println(t)
}
