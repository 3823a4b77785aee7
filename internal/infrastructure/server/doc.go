// Package server assembles the launcher: it builds every provider from
// config, installs the global error capture, runs the startup sequence and
// serves the local API the shell talks to.
package server
