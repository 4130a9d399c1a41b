/*
Package log provides structured logging for Pacfleet built on zerolog.

Init configures the global logger once at startup from the logging.level and
logging.structured config keys; JSON output for shipped deployments, a
console writer for interactive runs. Components obtain child loggers with
stable correlation fields:

	logger := log.WithComponent("coordinator")
	logger.Info().Str("endpoint_id", id).Msg("operation admitted")

The WithEndpointID / WithPoolID / WithOperationID helpers exist for the hot
paths where the same correlation field is attached repeatedly.
*/
package log
