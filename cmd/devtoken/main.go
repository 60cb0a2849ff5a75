// Command devtoken prints a bearer token for local testing, signed with the
// same JWT_SECRET the server verifies with.
//
//	go run ./cmd/devtoken -as patient:42 -ttl 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/domain"
)

func main() {
	_ = godotenv.Load()

	as := flag.String("as", "", `participant as "<role>:<id>", e.g. patient:42`)
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "iss claim")
	flag.Parse()

	p, err := domain.ParseParticipant(*as)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: -as: %v\n", err)
		os.Exit(2)
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "devtoken: JWT_SECRET is not set")
		os.Exit(2)
	}

	tok, exp, err := auth.IssueToken([]byte(secret), p, *ttl, *issuer, uuid.NewString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s valid until %s\n", p, exp.UTC().Format(time.RFC3339))
	fmt.Println(tok)
}
