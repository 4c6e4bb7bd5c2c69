package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance with the level from LOG_LEVEL
func New() *Logger {
	return NewWithLevel(os.Getenv("LOG_LEVEL"), os.Stdout)
}

// NewWithLevel creates a logger writing to w at the named level
func NewWithLevel(levelStr string, w io.Writer) *Logger {
	level := getLogLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Create handler based on environment
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		// Use text handler for development (more readable)
		handler = slog.NewTextHandler(w, opts)
	} else {
		// Use JSON handler for production (structured)
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("request_id", requestID)),
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("user_agent", c.Request.UserAgent()),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Business logic logging methods

// LogBookingReserved logs when a stall hold is created
func (l *Logger) LogBookingReserved(ctx context.Context, bookingRef, stallID, userID string, expiresAt time.Time) {
	l.Logger.InfoContext(ctx,
		"Booking Reserved",
		slog.String("booking_ref", bookingRef),
		slog.String("stall_id", stallID),
		slog.String("user_id", userID),
		slog.Time("expires_at", expiresAt),
	)
}

// LogPaymentSubmitted logs when payment evidence is attached
func (l *Logger) LogPaymentSubmitted(ctx context.Context, bookingRef, evidenceRef string) {
	l.Logger.InfoContext(ctx,
		"Payment Submitted",
		slog.String("booking_ref", bookingRef),
		slog.String("evidence_ref", evidenceRef),
	)
}

// LogBookingApproved logs when an admin confirms a booking
func (l *Logger) LogBookingApproved(ctx context.Context, bookingRef, approverID string) {
	l.Logger.InfoContext(ctx,
		"Booking Approved",
		slog.String("booking_ref", bookingRef),
		slog.String("approver_id", approverID),
	)
}

// LogBookingRejected logs when an admin cancels a booking
func (l *Logger) LogBookingRejected(ctx context.Context, bookingRef, approverID, reason string) {
	l.Logger.InfoContext(ctx,
		"Booking Rejected",
		slog.String("booking_ref", bookingRef),
		slog.String("approver_id", approverID),
		slog.String("reason", reason),
	)
}

// LogBookingExpired logs a hold reclaimed by the sweeper
func (l *Logger) LogBookingExpired(ctx context.Context, bookingRef, stallID string) {
	l.Logger.InfoContext(ctx,
		"Booking Expired",
		slog.String("booking_ref", bookingRef),
		slog.String("stall_id", stallID),
	)
}

// LogSweep logs a sweep pass that reclaimed at least one hold
func (l *Logger) LogSweep(ctx context.Context, reclaimed int) {
	l.Logger.InfoContext(ctx,
		"Expired Holds Swept",
		slog.Int("reclaimed", reclaimed),
	)
}

// LogStallsReturned logs a force return
func (l *Logger) LogStallsReturned(ctx context.Context, count int64) {
	l.Logger.WarnContext(ctx,
		"Confirmed Stalls Force Returned",
		slog.Int64("count", count),
	)
}

// Security logging methods

// LogAuthFailure logs failed authentication
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// Helper methods for common patterns

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.InfoContext(ctx, msg, args...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, slog.String("error", err.Error()))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

// Global logger instance (can be replaced with dependency injection)
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
