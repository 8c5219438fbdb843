// Package common provides the logging setup shared by all lockwatch packages.
//
// Every package obtains its logger once through dragonboat's logger registry
// (logger.GetLogger("<package>")). InitLoggers installs the lockwatch log format
// as the global factory and applies one level to all known loggers. Loggers that
// were created before InitLoggers was called are switched over as well.
package common
