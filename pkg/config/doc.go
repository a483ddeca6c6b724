// Package config loads plan engine configuration from PLANENGINE_* environment variables.
//
// Either PLANENGINE_POSTGRES_URL or PLANENGINE_CATALOG_FILE must be set. With only a
// catalog file the server keeps subscriptions in memory, which is meant for local use.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
