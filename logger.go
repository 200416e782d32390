package mqtt

// LogLevel represents the logging level.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// With returns a copy of f with key set to value.
func (f LogFields) With(key string, value any) LogFields {
	out := make(LogFields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[key] = value
	return out
}

// Logger is the logging sink used by the registry and clients.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a logger that adds fields to every record.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything. It is the default.
type NoOpLogger struct {
	level LogLevel
}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

func (n *NoOpLogger) Debug(_ string, _ LogFields) {}
func (n *NoOpLogger) Info(_ string, _ LogFields)  {}
func (n *NoOpLogger) Warn(_ string, _ LogFields)  {}
func (n *NoOpLogger) Error(_ string, _ LogFields) {}

func (n *NoOpLogger) WithFields(_ LogFields) Logger { return n }

func (n *NoOpLogger) Level() LogLevel { return n.level }

func (n *NoOpLogger) SetLevel(level LogLevel) { n.level = level }

// Standard field names.
const (
	LogFieldClientID   = "client_id"
	LogFieldServer     = "server"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReasonCode = "reason_code"
	LogFieldState      = "state"
	LogFieldError      = "error"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldDuration   = "duration"
	LogFieldBytes      = "bytes"
)
