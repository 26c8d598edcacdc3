package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	Phone       string // customer phone
	RecipientID string // business phone number id
	EnquiryID   *uint
	TurnID      string // one buffered batch of inbound messages
	Component   string
}

// WithLogFields merges fields into ctx. Non-empty values win over existing ones.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.Phone != "" {
		result.Phone = next.Phone
	}
	if next.RecipientID != "" {
		result.RecipientID = next.RecipientID
	}
	if next.EnquiryID != nil {
		result.EnquiryID = next.EnquiryID
	}
	if next.TurnID != "" {
		result.TurnID = next.TurnID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to maxLen bytes for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
