// Package settings stores daemon state that must survive restarts but does
// not belong in the configuration file, such as the operator-adjusted disk
// budget. Keys are flat strings; values are strings with typed accessors.
package settings
