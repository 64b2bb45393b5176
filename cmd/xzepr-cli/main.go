package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xbcsmith/xzepr/internal/auth/jwt"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/config"
	"github.com/xbcsmith/xzepr/internal/infra/cache"
	"github.com/xbcsmith/xzepr/internal/ratelimit"
	"github.com/xbcsmith/xzepr/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load(".env")

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenUser := tokenCmd.String("user", "", "user id to issue the token for")
	tokenUsername := tokenCmd.String("username", "", "username claim (defaults to the user id)")
	tokenRoles := tokenCmd.String("roles", "user", "comma-separated roles")
	tokenGroups := tokenCmd.String("groups", "", "comma-separated group ids")
	tokenTTL := tokenCmd.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRATION)")

	invalidateCmd := flag.NewFlagSet("invalidate", flag.ExitOnError)
	invalidateKind := invalidateCmd.String("kind", "", "receiver, group, event or user")
	invalidateID := invalidateCmd.String("id", "", "resource or user id")

	clearCmd := flag.NewFlagSet("clear-ratelimit", flag.ExitOnError)
	clearAll := clearCmd.Bool("all", false, "clear all rate limits")
	clearKey := clearCmd.String("key", "", "clear rate limits for one user id")

	if len(args) < 1 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "token":
		if err := tokenCmd.Parse(args[1:]); err != nil {
			return err
		}
		return handleToken(*tokenUser, *tokenUsername, *tokenRoles, *tokenGroups, *tokenTTL)
	case "invalidate":
		if err := invalidateCmd.Parse(args[1:]); err != nil {
			return err
		}
		return handleInvalidate(*invalidateKind, *invalidateID)
	case "clear-ratelimit":
		if err := clearCmd.Parse(args[1:]); err != nil {
			return err
		}
		return handleClearRateLimit(*clearAll, *clearKey)
	case "version":
		fmt.Println(version.Full())
		return nil
	default:
		printUsage()
		return nil
	}
}

func handleToken(userID, username, roles, groups string, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if username == "" {
		username = userID
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.JWTExpiration
	}

	manager := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	token, err := manager.GenerateAccessToken(userID, username, splitList(roles), splitList(groups), ttl)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func handleInvalidate(kind, id string) error {
	event, err := invalidationEvent(kind, id)
	if err != nil {
		return err
	}

	cacheClient, err := connectRedis()
	if err != nil {
		return err
	}
	defer closeCache(cacheClient)

	invalidator := authz.NewInvalidator(nil, cacheClient, zap.NewNop())
	if err := invalidator.Publish(context.Background(), event); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	fmt.Printf("Invalidation broadcast: %s %s\n", event.Kind, id)
	return nil
}

func invalidationEvent(kind, id string) (opa.ResourceUpdatedEvent, error) {
	if id == "" {
		return opa.ResourceUpdatedEvent{}, fmt.Errorf("--id is required")
	}
	switch kind {
	case "receiver", string(opa.EventReceiverUpdated):
		return opa.ReceiverUpdated(id, 0), nil
	case "group", string(opa.EventReceiverGroupUpdated):
		return opa.GroupUpdated(id, 0), nil
	case "event", string(opa.EventUpdated):
		return opa.EventChanged(id, 0), nil
	case "user", string(opa.UserPermissionsChanged):
		return opa.PermissionsChanged(id), nil
	default:
		return opa.ResourceUpdatedEvent{}, fmt.Errorf("unknown --kind %q", kind)
	}
}

func handleClearRateLimit(all bool, key string) error {
	if !all && key == "" {
		return fmt.Errorf("must specify either --all or --key")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cacheClient, err := connectRedis()
	if err != nil {
		return err
	}
	defer closeCache(cacheClient)

	limiter := ratelimit.NewLimiter(cacheClient, cfg.RateLimit, zap.NewNop())
	defer limiter.Close()

	ctx := context.Background()

	if all {
		n, err := limiter.ClearAll(ctx)
		if err != nil {
			return fmt.Errorf("clear all rate limits: %w", err)
		}
		if n == 0 {
			fmt.Println("No rate limit keys found")
			return nil
		}
		fmt.Printf("Cleared %d rate limit keys\n", n)
		return nil
	}

	for _, class := range []string{ratelimit.ClassDefault, ratelimit.ClassWrite, ratelimit.ClassAdmin} {
		if err := limiter.Reset(ctx, class, key); err != nil {
			return fmt.Errorf("clear rate limit: %w", err)
		}
	}
	fmt.Printf("Rate limit cleared for key: %s\n", key)
	return nil
}

func connectRedis() (*cache.Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled in config")
	}

	cacheClient, err := cache.New(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cacheClient, nil
}

func closeCache(c *cache.Cache) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing cache client: %v\n", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("XZepr CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  xzepr-cli token --user <id> [--roles r1,r2] [--groups g1,g2] [--ttl 1h]")
	fmt.Println("  xzepr-cli invalidate --kind receiver|group|event|user --id <id>")
	fmt.Println("  xzepr-cli clear-ratelimit --all")
	fmt.Println("  xzepr-cli clear-ratelimit --key <user id>")
	fmt.Println("  xzepr-cli version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  xzepr-cli token --user u-1 --roles event_manager")
	fmt.Println("  xzepr-cli invalidate --kind user --id u-1")
	fmt.Println("  xzepr-cli clear-ratelimit --key u-1")
}
