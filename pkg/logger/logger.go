// Package logger wraps logrus with the small, opinionated API the rest of
// this repo expects: level-named package functions plus the banner/section
// helpers; the cmd/ entrypoints print the banner at startup.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var std = newStd()

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	return l
}

// SetLevel sets the minimum level that will be emitted. Accepts any of the
// logrus level names ("debug", "info", "warn", "error").
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		std.Warnf("unknown log level %q, leaving level unchanged", level)
		return
	}
	std.SetLevel(parsed)
}

// ShowTime toggles the timestamp field in the output.
func ShowTime(show bool) {
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    show,
		DisableTimestamp: !show,
		TimestampFormat:  "15:04:05",
	})
}

func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Success logs at info level tagged with status=success, for the handful of
// startup/shutdown milestones worth calling out visually.
func Success(format string, args ...interface{}) {
	std.WithField("status", "success").Infof(format, args...)
}

// Fatal logs and terminates the process; startup failures are treated as
// unrecoverable.
func Fatal(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}

// Section prints a boxed section header to stdout, for separating a phase
// of CLI output from ordinary log lines.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-61s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the application banner shown once at process startup.
func Banner(title, version string) {
	const banner = `
╔═══════════════════════════════════════════════════════════╗
║                                                             ║
║    ██████╗██╗  ██╗ █████╗ ████████╗███████╗██████╗  █████╗ ║
║   ██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔══██╗██╔══██╗║
║   ██║     ███████║███████║   ██║   ███████╗██████╔╝███████║║
║   ██║     ██╔══██║██╔══██║   ██║   ╚════██║██╔═══╝ ██╔══██║║
║   ╚██████╗██║  ██║██║  ██║   ██║   ███████║██║     ██║  ██║║
║    ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝     ╚═╝  ██║║
║                                                             ║
║              %-45s ║
║                    version %-10s                   ║
║                                                             ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, title, version)
}
