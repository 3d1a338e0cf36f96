// Command admin-token mints a short-lived operator JWT for the billing API.
package main

import (
	"flag"
	"fmt"
	"log"

	"resume-billing/internal/config"
	"resume-billing/internal/infra/api/apiv1"
)

var (
	subject = flag.String("sub", "ops", "token subject")
	ttl     = flag.Duration("ttl", 0, "token lifetime (default 30m)")
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Server.JWTSecret == "" {
		log.Fatal("server.jwt_secret is not set; use the admin api key instead")
	}
	token, err := apiv1.NewAuthManager(cfg.Server.JWTSecret, "", *ttl).Mint(*subject)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	fmt.Println(token)
}
