// Command admintoken issues a bearer token for the call agent's admin API.
// It signs with the same CALLAGENT_ADMIN_SECRET the server is started with.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/flowpbx/callagent/internal/api/middleware"
	"github.com/flowpbx/callagent/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	subject := flag.String("subject", "admin", "who the token is issued to (appears in request logs)")
	ttl := flag.Duration("ttl", middleware.DefaultAdminTokenTTL, "token lifetime")
	flag.Parse()

	secret := os.Getenv("CALLAGENT_ADMIN_SECRET")
	if len(secret) < config.MinAdminSecretLen {
		fmt.Fprintf(os.Stderr, "error: CALLAGENT_ADMIN_SECRET must be set to at least %d bytes\n", config.MinAdminSecretLen)
		os.Exit(1)
	}
	if *ttl <= 0 {
		fmt.Fprintln(os.Stderr, "error: ttl must be positive")
		os.Exit(1)
	}

	token, expiresAt, err := middleware.GenerateAdminToken([]byte(secret), *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "token for %q expires %s\n", *subject, expiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Println(token)
}
