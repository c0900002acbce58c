package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge routes slog records from pipeline components into the shared
// zerolog logger, pulling request fields from the context.
type slogBridge struct {
	zl     *zerolog.Logger
	prefix string
	bound  []slog.Attr
}

// NewSlog wraps zl in a *slog.Logger so components only depend on log/slog.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: zl})
}

func (b *slogBridge) Enabled(_ context.Context, l slog.Level) bool {
	return toZerologLevel(l) >= b.zl.GetLevel()
}

func (b *slogBridge) Handle(ctx context.Context, r slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(toZerologLevel(r.Level))

	for _, a := range b.bound {
		ev = writeField(ev, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = writeField(ev, b.prefix+a.Key, a.Value)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

// WithAttrs qualifies keys with the group prefix in effect at bind time, so
// attrs bound before a WithGroup stay outside that group.
func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	bound := make([]slog.Attr, 0, len(cp.bound)+len(attrs))
	bound = append(bound, cp.bound...)
	for _, a := range attrs {
		bound = append(bound, slog.Attr{Key: cp.prefix + a.Key, Value: a.Value})
	}
	cp.bound = bound
	return &cp
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := *b
	cp.prefix = cp.prefix + name + "."
	return &cp
}

func writeField(ev *zerolog.Event, key string, v slog.Value) *zerolog.Event {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	default:
		if err, ok := v.Any().(error); ok {
			return ev.AnErr(key, err)
		}
		return ev.Interface(key, v.Any())
	}
}

func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
