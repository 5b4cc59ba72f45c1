package healthauth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type riskScoreContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP login throttling, session records and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the caller's User-Agent to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRiskScore attaches a caller-computed risk score in [0, 1] to ctx. It
// is copied into every audit event the operation emits; the engine does not
// act on it.
func WithRiskScore(ctx context.Context, score float64) context.Context {
	return context.WithValue(ctx, riskScoreContextKey{}, score)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func riskScoreFromContext(ctx context.Context) float64 {
	if ctx == nil {
		return 0
	}

	score, _ := ctx.Value(riskScoreContextKey{}).(float64)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
