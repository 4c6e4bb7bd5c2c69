package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"stallbook/internal/shared/config"
	"stallbook/internal/shared/constants"
	"stallbook/internal/shared/database"
	"stallbook/internal/stalls"
	"stallbook/internal/users"
	"stallbook/pkg/cache"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

type Seeder struct {
	db        *database.DB
	stallRepo stalls.Repository
}

func main() {
	clean := flag.Bool("clean", true, "truncate stall and booking tables before seeding")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed development tokens")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Println("🌱 Starting Stallbook Database Seeder...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.UsesMemoryStore() {
		log.Fatalf("DB_DRIVER=memory seeds itself on startup (DB_MEMORY_SEED), point the seeder at Postgres")
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{db: db, stallRepo: stalls.NewRepository(db.GetPostgreSQL())}
	ctx := context.Background()

	if *clean {
		fmt.Println("\n🧹 Cleaning database...")
		if err := seeder.CleanDatabase(); err != nil {
			log.Fatalf("Failed to clean database: %v", err)
		}
		fmt.Println("✅ Database cleaned successfully")
	}

	fmt.Println("\n🌱 Seeding stalls...")
	count, err := seeder.SeedStalls(ctx)
	if err != nil {
		log.Fatalf("Failed to seed stalls: %v", err)
	}
	fmt.Printf("✅ Seeded %d stalls across %d zones\n", count, len(stalls.DefaultLayouts))

	if redisClient := db.GetRedisClient(); redisClient != nil {
		if err := cache.NewService(redisClient).DeletePattern(ctx, constants.CACHE_PATTERN_STALLS); err != nil {
			log.Printf("Failed to clear stall cache: %v", err)
		}
	}

	fmt.Println("\n🔑 Development tokens:")
	for _, role := range []users.Role{users.RoleUser, users.RoleAdmin} {
		token, err := issueDevToken(cfg.JWT.Secret, uuid.New(), role, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to sign %s token: %v", role, err)
		}
		fmt.Printf("  %-5s %s\n", role, token)
	}

	fmt.Println("\n🎉 Seeding completed! Database is ready for testing.")
}

// CleanDatabase truncates the booking core tables, children first
func (s *Seeder) CleanDatabase() error {
	tables := []string{
		"payments",
		"bookings",
		"booking_sequences",
		"stalls",
	}

	return s.db.PostgreSQL.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			fmt.Printf("  Truncating table: %s\n", table)
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate table %s: %w", table, err)
			}
		}
		return nil
	})
}

// SeedStalls provisions every zone of the default layout
func (s *Seeder) SeedStalls(ctx context.Context) (int, error) {
	created := 0
	for _, layout := range stalls.DefaultLayouts {
		n, err := stalls.Provision(ctx, s.stallRepo, []stalls.ZoneLayout{layout})
		created += n
		if err != nil {
			return created, err
		}
		fmt.Printf("  %s: %d stalls\n", layout.Zone, n)
	}
	return created, nil
}

// issueDevToken signs an access token in the shape the JWT middleware expects
func issueDevToken(secret string, userID uuid.UUID, role users.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"email":   fmt.Sprintf("%s@stallbook.local", userID.String()[:8]),
		"role":    string(role),
		"type":    "access",
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
