// Command webhook-sign produces a signed callback header for a payload so
// operators can exercise the webhook endpoint by hand.
//
//	echo '{"type":"stream.active","data":{"ingestId":"ing-1"}}' | \
//	    webhook-sign -secret $PULSECAST_WEBHOOK_SECRET
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"pulsecast/internal/webhook"
)

func main() {
	secret := flag.String("secret", "", "shared webhook secret")
	flag.Parse()

	if *secret == "" {
		*secret = os.Getenv("PULSECAST_WEBHOOK_SECRET")
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a webhook secret is required (-secret or PULSECAST_WEBHOOK_SECRET)")
		os.Exit(2)
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
		os.Exit(1)
	}

	verifier, err := webhook.NewVerifier(*secret, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Printf("%s: %s\n", webhook.SignatureHeader, verifier.Sign(body, time.Now()))
}
