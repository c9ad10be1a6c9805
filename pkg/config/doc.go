// Package config loads warden settings from WARDEN_* environment variables.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Empty WARDEN_POSTGRES_URL and WARDEN_REDIS_URL select in-memory stores,
// which is only suitable for a single process.
package config
