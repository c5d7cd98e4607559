// Package logx is autoreload's structured logging: a small value-type Logger
// on top of zerolog whose sinks and level can be swapped at runtime by the
// Service when the config file changes.
//
// Console output is human readable (short timestamp and caller); the file sink
// writes JSON lines.
package logx
