// Package logger provides the structured logging interface used across the
// archiver.
//
// It wraps zerolog. Output is either human-readable console lines or JSON
// lines, optionally mirrored to a file:
//
//	cfg := &config.LoggingConfig{Level: "info", Format: "json"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("job_id", job.ID)
//	log.InfoWithFields("account harvested", map[string]interface{}{
//	    "account": acct.Handle,
//	    "added":   added,
//	})
//
// Components accept a Logger so tests can pass NewTestLogger and assert on
// captured entries, or NewNopLogger to discard them.
package logger
