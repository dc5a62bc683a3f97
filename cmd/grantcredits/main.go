// Command grantcredits adjusts a user's paid credit balance directly over
// DATABASE_URL. Meant for support and testing; purchases normally land
// through the payment webhook upstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"astrocredits/internal/infra"
)

func main() {
	var (
		userFlag string
		addFlag  int
		setFlag  int
		setUsed  bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID whose balance to adjust")
	flag.IntVar(&addFlag, "add", 0, "credits to add (may be negative)")
	flag.IntVar(&setFlag, "set", 0, "absolute balance to set (overrides -add)")
	flag.BoolVar(&setUsed, "use-set", false, "apply -set instead of -add")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if !setUsed && addFlag == 0 {
		exitWithError(errors.New("nothing to do: pass -add N or -use-set -set N"))
	}
	if setUsed && setFlag < 0 {
		exitWithError(errors.New("-set must be >= 0"))
	}

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "grantcredits").Logger()

	var balance int
	if setUsed {
		row := pool.QueryRow(ctx, `
INSERT INTO entitlements (user_id, paid_credits, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE
SET paid_credits = EXCLUDED.paid_credits, updated_at = NOW()
RETURNING paid_credits;
`, userID, setFlag)
		err = row.Scan(&balance)
	} else {
		// paid_credits never goes below zero, whatever -add says.
		row := pool.QueryRow(ctx, `
INSERT INTO entitlements (user_id, paid_credits, updated_at)
VALUES ($1, GREATEST($2, 0), NOW())
ON CONFLICT (user_id) DO UPDATE
SET paid_credits = GREATEST(entitlements.paid_credits + $2, 0), updated_at = NOW()
RETURNING paid_credits;
`, userID, addFlag)
		err = row.Scan(&balance)
	}
	if err != nil {
		exitWithError(fmt.Errorf("failed to update balance: %w", err))
	}

	logger.Info().Str("user_id", userID).Int("paid_credits", balance).Msg("balance updated")
	fmt.Printf("User %s now has %d paid credits\n", userID, balance)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
