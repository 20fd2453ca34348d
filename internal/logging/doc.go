// Package logging builds the slog loggers used throughout morph.
//
// Loggers are constructed once at startup and passed down explicitly;
// components derive their own child loggers with NewComponentLogger so
// console output stays grouped per subsystem. Both a human-oriented
// console handler and a machine-oriented JSON handler are available.
package logging
