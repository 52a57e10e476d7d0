package observability

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger configures the process-wide zerolog logger. When logPath is
// empty, output goes to stderr only; otherwise logs are duplicated to the
// given file so a run can be inspected after the terminal is gone.
func InitLogger(logPath string, level string) (*zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stderr
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	logger := zerolog.New(w).With().Timestamp().Caller().Logger()
	zerolog.DefaultContextLogger = &logger
	return &logger, nil
}
