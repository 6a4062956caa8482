package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/skip2/go-qrcode"

	"rdpgate/internal/auth"
	"rdpgate/internal/constants"
)

func printField(label, value, valueColor string) {
	fmt.Printf("  %s%-10s%s %s%s%s\n", constants.ColorDim, label, constants.ColorReset, valueColor, value, constants.ColorReset)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "token: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", os.Getenv("RDPGATE_TOKEN_SECRET"), "signing secret (default $RDPGATE_TOKEN_SECRET)")
	subject := flag.String("sub", "", "subject the token is issued to")
	node := flag.String("node", "", "restrict the token to one node id")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	viewer := flag.String("url", "", "viewer URL; the token is appended as ?token=")
	qr := flag.Bool("qr", false, "print the viewer URL as a terminal QR code")
	flag.Parse()

	if *subject == "" {
		fail("-sub is required")
	}
	signer, err := auth.NewSigner([]byte(*secret))
	if err != nil {
		fail("%v", err)
	}
	token, err := signer.Issue(*subject, *node, *ttl)
	if err != nil {
		fail("%v", err)
	}

	fmt.Println()
	printField("Subject", *subject, constants.ColorCyan)
	if *node != "" {
		printField("Node", *node, constants.ColorCyan)
	}
	printField("Expires", time.Now().Add(*ttl).Format(time.RFC3339), constants.ColorDim)
	printField("Token", token, constants.ColorBold+constants.ColorGreen)

	if *viewer == "" {
		fmt.Println()
		return
	}
	u, err := url.Parse(*viewer)
	if err != nil {
		fail("invalid -url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	printField("URL", u.String(), constants.ColorCyan)
	fmt.Println()

	if *qr {
		code, err := qrcode.New(u.String(), qrcode.Medium)
		if err != nil {
			fail("qr code: %v", err)
		}
		fmt.Println(code.ToSmallString(false))
	}
}
