package context

import "context"

type ContextKey string

var (
	RequestIDKey     = ContextKey("X-Request-Id")
	MethodKey        = ContextKey("X-Method")
	RouteKey         = ContextKey("X-Route")
	RemoteIPKey      = ContextKey("X-Remote-Ip")
	RunIDKey         = ContextKey("X-Run-Id")
	TriggerKey       = ContextKey("X-Trigger")
	DestinationIDKey = ContextKey("X-Destination-Id")
)

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetRunID tags the context with the sync run it belongs to
func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// SetTrigger records what started the run ("schedule", "startup", "manual")
func SetTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

func GetTrigger(ctx context.Context) string {
	return getString(ctx, TriggerKey)
}

func SetDestinationID(ctx context.Context, destinationID string) context.Context {
	return context.WithValue(ctx, DestinationIDKey, destinationID)
}

func GetDestinationID(ctx context.Context) string {
	return getString(ctx, DestinationIDKey)
}

// LogFields returns the run-scoped values present on the context
func LogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	if v := GetRequestID(ctx); v != "" {
		fields["request_id"] = v
	}
	if v := GetRunID(ctx); v != "" {
		fields["run_id"] = v
	}
	if v := GetTrigger(ctx); v != "" {
		fields["trigger"] = v
	}
	if v := GetDestinationID(ctx); v != "" {
		fields["destination_id"] = v
	}
	return fields
}

// LogFieldsWith merges extra into the run-scoped values present on the context
func LogFieldsWith(ctx context.Context, extra map[string]any) map[string]any {
	fields := LogFields(ctx)
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}
