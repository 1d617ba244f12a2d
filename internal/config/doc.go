// Package config provides loading and environment overlay for server
// configuration. It exposes a Default() baseline, a JSON file loader, and
// an ORDERBEAN_* environment overlay applied last.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/orderbean.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
