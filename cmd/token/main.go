// Command token mints API bearer tokens signed with API_SIGNING_KEY.
//
//	API_SIGNING_KEY=... token -subject dashboard -scope forecast:read -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pvcast/pvcast/internal/auth"
)

func main() {
	subject := flag.String("subject", "", "client the token is issued to (required)")
	scopes := flag.String("scope", auth.ScopeForecastRead, "comma-separated scopes ("+auth.ScopeForecastRead+", "+auth.ScopeAdmin+")")
	ttl := flag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	key := os.Getenv("API_SIGNING_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "API_SIGNING_KEY must be set")
		os.Exit(2)
	}

	var scopeList []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopeList = append(scopeList, s)
		}
	}

	token, expiresAt, err := auth.NewTokenService(auth.TokenConfig{SigningKey: key}).Issue(*subject, scopeList, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
