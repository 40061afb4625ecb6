package cmd

import (
	"fmt"
	"log"

	"github.com/bandpassrecords/scgate/config"
	"github.com/bandpassrecords/scgate/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Test the Redis connection",
	Long:  `Connect to Redis with the current configuration and run a basic read/write round-trip.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("Redis config: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		fmt.Println("Redis connection OK")

		if err := db.TestRedis(); err != nil {
			log.Fatalf("Redis read/write test failed: %v", err)
		}
		fmt.Println("Redis read/write test OK")

		if err := db.CloseRedis(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
