package proa

// Version is the version of proa. This variable is overridden at build time
// using ldflags.
var Version = "0.1.0-dev"
