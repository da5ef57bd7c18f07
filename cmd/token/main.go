package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"manito/internal/api"
	"manito/internal/config"
	"manito/internal/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		userID     = flag.String("user", "", "subject of the token")
		role       = flag.String("role", "CLIENT", "CLIENT, PRO or ADMIN")
		ttl        = flag.Duration("ttl", 0, "token lifetime, defaults to api.jwt.ttl")
	)
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	parsed, ok := models.ParseRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jwtCfg := cfg.API.JWT
	if *ttl > 0 {
		jwtCfg.TTL = *ttl
	}

	token, err := api.IssueToken(jwtCfg, models.Identity{UserID: *userID, Role: parsed}, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
