package cmd

import (
	"fmt"
	"log"

	"github.com/bandpassrecords/scgate/config"
	"github.com/bandpassrecords/scgate/storage"

	"github.com/spf13/cobra"
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Test the MinIO connection",
	Long:  `Connect to MinIO with the current configuration and verify the gate file bucket exists (creating it if needed).`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("MinIO config: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}
		fmt.Println("MinIO connection OK, bucket ready")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
}
