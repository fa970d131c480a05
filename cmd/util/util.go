package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// VerboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged regardless of the
// configured log level.
const VerboseLogKey = "IRISSYNC_LOG_VERBOSE"

// SetupLogging directs the log to the given file. Entries append across
// runs; the caller is expected to log a separator when a new run starts.
func SetupLogging(path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create log directory")
	}

	file, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithContext(err, "open log file")
	}

	log.SetOutput(file)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return nil
}

// HandleFatalError prints a friendly message for user-fixable errors, and a
// pointer to the log file for everything else. It exits the process.
func HandleFatalError(err error) {
	if errors.IsFriendly(err) {
		msg := errors.GetPrintableMessage(err)
		log.Error(msg)
		fmt.Fprintln(os.Stderr, msg)
	} else {
		log.WithError(err).Error("Unhandled error")
		fmt.Fprintf(os.Stderr,
			"An error occurred; please see the log file for details.\n\n%s\n", err)
	}
	os.Exit(1)
}

// HandlePanic logs a panic with its stack trace before exiting. Deferred in
// main so users get a log file entry instead of a raw crash.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
	fmt.Fprintf(os.Stderr,
		"An unexpected error occurred; please see the log file for details.\n\n%v\n", r)
	os.Exit(1)
}
