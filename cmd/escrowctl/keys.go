package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"janus/cmd/internal/passphrase"
	"janus/crypto"
)

const (
	keystorePassEnv = "JANUS_KEYSTORE_PASS"
	hmacSecretEnv   = "JANUS_GATEWAY_HMAC_SECRET"
)

var (
	tokenNow       = time.Now
	keystoreSource = func() secretSource { return passphrase.NewSource(keystorePassEnv, "keystore passphrase") }
	hmacSource     = func() secretSource { return passphrase.NewSource(hmacSecretEnv, "gateway HMAC secret") }
)

type secretSource interface {
	Get() (string, error)
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out   string
		force bool
	)
	fs.StringVar(&out, "out", "janus.keystore", "keystore output path")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if !force {
		if _, err := os.Stat(out); err == nil {
			return printError(stderr, fmt.Sprintf("keystore %s already exists (use -force to overwrite)", out))
		}
	}
	pass, err := keystoreSource().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	writeResult(stdout, map[string]string{
		"address":  key.PubKey().Address().String(),
		"keystore": out,
	})
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var path string
	fs.StringVar(&path, "keystore", "janus.keystore", "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pass, err := keystoreSource().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return printError(stderr, fmt.Sprintf("open keystore: %v", err))
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

// runToken mints an HS256 bearer token for the gateway. The subject is either
// -sub or the address of -keystore.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		subject  string
		keystore string
		scopes   string
		issuer   string
		audience string
		ttl      time.Duration
	)
	fs.StringVar(&subject, "sub", "", "caller address")
	fs.StringVar(&keystore, "keystore", "", "derive the caller address from this keystore")
	fs.StringVar(&scopes, "scope", "", "space or comma separated scopes")
	fs.StringVar(&issuer, "iss", "", "issuer claim")
	fs.StringVar(&audience, "aud", "", "audience claim")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if ttl <= 0 {
		return printError(stderr, "-ttl must be positive")
	}
	if keystore != "" {
		pass, err := keystoreSource().Get()
		if err != nil {
			return printError(stderr, err.Error())
		}
		key, err := crypto.LoadFromKeystore(keystore, pass)
		if err != nil {
			return printError(stderr, fmt.Sprintf("open keystore: %v", err))
		}
		subject = key.PubKey().Address().String()
	}
	if _, err := crypto.ParseAddress(strings.TrimSpace(subject)); err != nil {
		return printError(stderr, "-sub or -keystore must identify a valid address")
	}
	secret, err := hmacSource().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := mintToken([]byte(strings.TrimSpace(secret)), tokenClaims{
		Subject:  strings.TrimSpace(subject),
		Scopes:   splitScopes(scopes),
		Issuer:   issuer,
		Audience: audience,
		TTL:      ttl,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

type tokenClaims struct {
	Subject  string
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

func mintToken(secret []byte, c tokenClaims) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("empty HMAC secret")
	}
	now := tokenNow()
	claims := jwt.MapClaims{
		"sub": c.Subject,
		"iat": now.Unix(),
		"exp": now.Add(c.TTL).Unix(),
	}
	if len(c.Scopes) > 0 {
		claims["scope"] = strings.Join(c.Scopes, " ")
	}
	if c.Issuer != "" {
		claims["iss"] = c.Issuer
	}
	if c.Audience != "" {
		claims["aud"] = c.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func splitScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
