// Command seed-room writes a room record into the session store. Rooms are
// owned by the wider backend; this tool exists so a deployment can be
// bootstrapped before that integration is live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

func main() {
	roomID := flag.String("room", "", "room identifier")
	ownerID := flag.String("owner", "", "account that owns the room")
	title := flag.String("title", "", "room title")
	moderators := flag.String("moderators", "", "comma separated moderator account ids")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("PULSECAST_POSTGRES_DSN"), "Postgres connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("PULSECAST_REDIS_ADDR"), "Redis address")
	redisPassword := flag.String("redis-password", os.Getenv("PULSECAST_REDIS_PASSWORD"), "Redis password")
	timeout := flag.Duration("timeout", 10*time.Second, "operation timeout")
	flag.Parse()

	if strings.TrimSpace(*roomID) == "" || strings.TrimSpace(*ownerID) == "" {
		fmt.Fprintln(os.Stderr, "-room and -owner are required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, closeStore, err := openStore(ctx, *postgresDSN, *redisAddr, *redisPassword)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeStore()

	room := models.Room{
		ID:        strings.TrimSpace(*roomID),
		OwnerID:   strings.TrimSpace(*ownerID),
		Title:     strings.TrimSpace(*title),
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range strings.Split(*moderators, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			room.ModeratorIDs = append(room.ModeratorIDs, trimmed)
		}
	}

	if err := st.PutRoom(ctx, room); err != nil {
		fmt.Fprintf(os.Stderr, "seed room: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("room %s seeded for owner %s\n", room.ID, room.OwnerID)
}

func openStore(ctx context.Context, postgresDSN, redisAddr, redisPassword string) (store.Store, func(), error) {
	switch {
	case strings.TrimSpace(postgresDSN) != "":
		ps, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:             postgresDSN,
			ApplicationName: "pulsecast-seed-room",
		})
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	case strings.TrimSpace(redisAddr) != "":
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     redisAddr,
			Password: redisPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("a persistent store is required: set -postgres-dsn or -redis-addr")
	}
}
