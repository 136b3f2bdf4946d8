// Command smoke-auth checks a running deployment end to end: it logs in at
// the identity service, validates the token there, then calls /whoami on a
// consumer that validates through the issuer.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"tessera.social/internal/auth"
	"tessera.social/internal/obs"
)

func main() {
	log := obs.NewLogger("tessera-smoke", "development", "info", os.Stderr)

	issuer := envOr("SMOKE_ISSUER_URL", "http://localhost:8080")
	consumer := envOr("SMOKE_CONSUMER_URL", "http://localhost:8081")
	email := os.Getenv("SMOKE_EMAIL")
	password := os.Getenv("SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal().Msg("SMOKE_EMAIL and SMOKE_PASSWORD are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := &http.Client{Timeout: 5 * time.Second}

	var login struct {
		Token string        `json:"token"`
		User  auth.Identity `json:"user"`
	}
	if err := call(ctx, client, http.MethodPost, issuer+"/login", "",
		map[string]string{"email": email, "password": password}, &login); err != nil {
		log.Fatal().Err(err).Msg("login")
	}

	var validated auth.ValidateResponse
	if err := call(ctx, client, http.MethodPost, issuer+"/validate-token", "",
		auth.ValidateRequest{Token: login.Token}, &validated); err != nil {
		log.Fatal().Err(err).Msg("validate-token")
	}
	if !validated.Valid || validated.User == nil || validated.User.ID != login.User.ID {
		log.Fatal().Str("reason", validated.Reason).Msg("issuer rejected its own token")
	}

	var whoami struct {
		User auth.Identity `json:"user"`
	}
	if err := call(ctx, client, http.MethodGet, consumer+"/whoami", login.Token, nil, &whoami); err != nil {
		log.Fatal().Err(err).Msg("consumer whoami")
	}
	if whoami.User.ID != login.User.ID || whoami.User.Role != login.User.Role {
		log.Fatal().
			Str("want", login.User.ID).
			Str("got", whoami.User.ID).
			Msg("consumer disagrees with issuer")
	}

	fmt.Printf("smoke test passed: user=%s role=%s\n", login.User.ID, login.User.Role)
}

func call(ctx context.Context, client *http.Client, method, url, token string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
