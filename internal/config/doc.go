// Package config provides configuration management for the agentgraph daemon.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use, with
// Redis as the storage and events backend and the in-process sandbox.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
