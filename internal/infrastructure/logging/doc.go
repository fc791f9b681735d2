// Package logging provides structured logging for SprayCell Core.
//
// It wraps log/slog so every component logs through the same handler
// with the same default fields (service, version, site).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components receive a child logger scoped with a component field:
//
//	logger := logging.New(cfg.Logging, version).WithSite(cfg.Site.ID)
//	reg.SetLogger(logger.Component("tags"))
//
// *Logger satisfies the small Logger interfaces declared by the broker,
// tag, state and bridge packages (Debug, Info, Warn, Error).
package logging
