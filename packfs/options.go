package packfs

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Options configures Open. All fields are optional; the zero value is a
// silent, default-block-size filesystem.
type Options struct {
	// BlockSize does not change the volume's block size: Open formats a
	// fresh (or corrupt) volume with DefaultBlockSize, and an existing,
	// valid volume keeps the block size recorded in its header.
	BlockSize uint16

	// Logger receives structured logs for save/load/format/defrag and
	// allocator decisions at Debug level, and a Warn when a corrupt
	// header forces an automatic reformat. When Logger is nil, LogOutput
	// and LogLevel decide where logs go (discarded by default). This is
	// the home given to the teacher go.mod's declared-but-unexercised
	// logrus dependency.
	Logger *logrus.Logger

	// LogLevel sets the level on a freshly constructed default logger
	// when Logger is nil and LogOutput is non-nil. Ignored otherwise.
	LogLevel logrus.Level

	// LogOutput, combined with LogLevel, builds a default logger when
	// Logger is nil. A nil LogOutput (the zero value) yields a logger
	// that discards everything, so default-configured callers see no
	// output at all.
	LogOutput io.Writer
}

func (o Options) logger() *logrus.Entry {
	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
		if o.LogOutput != nil {
			logger.SetOutput(o.LogOutput)
			logger.SetLevel(o.LogLevel)
		} else {
			logger.SetOutput(io.Discard)
		}
	}
	return logrus.NewEntry(logger)
}

func (o Options) blockSize() uint16 {
	if o.BlockSize == 0 {
		return DefaultBlockSize
	}
	return o.BlockSize
}
