package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives one observation per finished query. operation is the
// leading SQL verb, route the chi pattern of the request that issued it
// ("background" for work detached from a request).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration) {
	f(ctx, operation, route, outcome, dur)
}

type observerBox struct{ QueryObserver }

var observer atomic.Pointer[observerBox]

// SetQueryObserver installs the process-wide observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerBox{o})
}

func currentObserver() QueryObserver {
	if b := observer.Load(); b != nil {
		return b.QueryObserver
	}
	return nil
}

type queryStartKey struct{}

// queryStart is what TraceQueryStart hands to TraceQueryEnd.
type queryStart struct {
	sql    string
	nargs  int
	at     time.Time
	caller string
}

// queryTracer chains an inner tracer (otelpgx) with a structured log line and
// the query observer. Arguments are never logged: they carry phone numbers and
// call transcripts.
type queryTracer struct {
	inner        pgx.QueryTracer
	logThreshold time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, logThreshold time.Duration) *queryTracer {
	return &queryTracer{inner: inner, logThreshold: logThreshold}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{sql: data.SQL, nargs: len(data.Args), at: time.Now(), caller: storeCaller()}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if qs.caller != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("floodvoice.store.method", qs.caller))
		}
	}
	return context.WithValue(ctx, queryStartKey{}, qs)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(queryStartKey{}).(*queryStart)
	if !ok {
		return
	}
	dur := time.Since(qs.at)
	op := sqlOperation(qs.sql)

	if obs := currentObserver(); obs != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, op, routeOf(ctx), outcome, dur)
	}

	if data.Err == nil && dur < t.logThreshold {
		return
	}

	fields := []any{
		"db.operation.name", op,
		"db.statement", compactSQL(qs.sql),
		"db.args_count", qs.nargs,
		"db.duration", dur.Seconds(),
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		log.FromContext(ctx).Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	log.FromContext(ctx).Info(ctx, "db query", fields...)
}

func routeOf(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "background"
}

// sqlOperation returns the upper-cased first keyword, or the keyword after a
// leading CTE.
func sqlOperation(sql string) string {
	f := strings.Fields(sql)
	if len(f) == 0 {
		return "UNKNOWN"
	}
	op := strings.ToUpper(f[0])
	if op != "WITH" {
		return op
	}
	for _, w := range f[1:] {
		switch u := strings.ToUpper(w); u {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			op = u
		}
	}
	return op
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

const storePkg = "github.com/linnemanlabs/floodvoice/internal/checkin/pgstore."

// storeCaller names the store method issuing the query, e.g. "(*Store).ClaimAlert".
func storeCaller() string {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, storePkg) {
			return shortenFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

// shortenFuncName drops the import path and package name, keeping receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 {
		fn = fn[dot+1:]
	}
	return fn
}
