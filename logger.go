package quill

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/quill/internal/delivery"
	"github.com/user/quill/internal/obslog"
	"github.com/user/quill/pkg/metrics"
)

type subsystemInfo struct {
	name     string
	minLevel Level
}

// Logger is the process-wide facade: subsystem registry plus the delivery
// worker that owns the sink registry. Applications normally use the
// package-level functions below rather than this type directly, mirroring
// the original's instance()-returning singleton.
type Logger struct {
	mu            sync.Mutex
	subsystems    map[SubsystemID]*subsystemInfo
	nextSubsystem SubsystemID
	worker        *delivery.Worker
}

var (
	instance     *Logger
	instanceOnce sync.Once
)

func defaultLogger() *Logger {
	instanceOnce.Do(func() {
		instance = &Logger{
			subsystems: make(map[SubsystemID]*subsystemInfo),
			worker:     delivery.NewWorker(nil),
		}
	})
	return instance
}

// UseMetricsRegistry registers quill's internal pipeline metrics (queue
// depth, delivered/dropped/expired counters, sink up/down gauges) against
// reg. Metrics are recorded from this call onward: nothing that happened
// earlier is counted, and sinks added earlier have no up/down gauge until
// their state next changes. Embedding applications that don't call this
// simply get a metrics-free pipeline.
func UseMetricsRegistry(reg prometheus.Registerer) {
	l := defaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.worker.SetMetrics(metrics.New(reg))
}

// Register returns the stable SubsystemID for _name, registering it on
// first use. Repeated registrations of the same name are merged and return
// the same id, so multiple source files can each register the same
// subsystem without caring who got there first.
func Register(name string) SubsystemID {
	name = normalizeSubsystemName(name)
	l := defaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, info := range l.subsystems {
		if info.name == name {
			return id
		}
	}
	id := l.nextSubsystem
	l.nextSubsystem++
	l.subsystems[id] = &subsystemInfo{name: name, minLevel: Finest}
	return id
}

// FindSubsystem looks up the SubsystemID previously returned by Register
// for _name, without registering it. It returns ErrUnknownSubsystem if no
// subsystem by that name has been registered yet.
func FindSubsystem(name string) (SubsystemID, error) {
	name = normalizeSubsystemName(name)
	l := defaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, info := range l.subsystems {
		if info.name == name {
			return id, nil
		}
	}
	return 0, ErrUnknownSubsystem
}

// SetSubsystemMinLevel changes the minimum level a subsystem will submit
// events at; events below it are dropped in Log before ever reaching the
// delivery worker.
func SetSubsystemMinLevel(sub SubsystemID, level Level) {
	l := defaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.subsystems[sub]; ok {
		info.minLevel = level
	}
}

// Log submits an event for subsystem _sub at _level. Events below the
// subsystem's minimum level are dropped immediately, before ever reaching
// the asynchronous delivery pipeline.
func Log(level Level, sub SubsystemID, message, function string) {
	l := defaultLogger()
	l.mu.Lock()
	info, ok := l.subsystems[sub]
	l.mu.Unlock()
	if !ok {
		l.worker.RecordDropped("unknown_subsystem")
		return
	}
	if level < info.minLevel {
		l.worker.RecordDropped("below_subsystem_min_level")
		return
	}
	fn := function
	if fn == "" {
		fn = "/UNKNOWN/"
	}
	l.worker.Enqueue(delivery.Event{
		Level:        int(level),
		Subsystem:    uint(sub),
		SubsystemStr: info.name,
		Message:      message,
		Function:     fn,
		Time:         time.Now(),
	})
}

// AddSink registers _sink for fanout. When _ref is empty, the sink's own
// Name() is used as its registry key.
func AddSink(sink Sink, ref string) {
	defaultLogger().worker.AddSink(adaptSink{sink}, ref)
}

// RemoveSink unregisters and closes the sink previously added under _ref
// (or its own name, if it was added with an empty ref). Reports whether a
// sink was found.
func RemoveSink(ref string) bool {
	return defaultLogger().worker.RemoveSink(ref)
}

// SetMinLevel changes the minimum level accepted by the sink registered
// under _ref. Reports whether the sink was found.
func SetMinLevel(ref string, level Level) bool {
	return defaultLogger().worker.SetMinLevel(ref, int(level))
}

// DumpConfiguration writes a human-readable summary of the registered
// subsystems and sinks to w, mirroring logger::dump_configuration.
func DumpConfiguration(w io.Writer) {
	l := defaultLogger()
	fmt.Fprintln(w, "active output streams:")
	for _, name := range l.worker.SinkNames() {
		fmt.Fprintf(w, "   - %s\n", name)
		l.worker.DumpSink(name, w)
	}
	fmt.Fprintln(w, "active logging subsystems:")
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, info := range l.subsystems {
		fmt.Fprintf(w, "   - %s\n     min. log level: %s\n", info.name, Level(info.minLevel))
	}
}

// Shutdown drains the delivery worker and every active retry worker before
// returning, so the caller can flush-then-exit deterministically instead of
// relying on process-exit ordering (compare the original's
// logger::terminate, called from its atexit/signal handlers).
func Shutdown() {
	defaultLogger().worker.Terminate()
}

// adaptSink bridges the public Sink interface to the internal delivery
// package's narrower sink contract, keeping internal/delivery free of a
// dependency on the root package (it would otherwise be a cycle).
type adaptSink struct {
	s Sink
}

func (a adaptSink) Name() string         { return a.s.Name() }
func (a adaptSink) MinLevel() int        { return int(a.s.MinLevel()) }
func (a adaptSink) SetMinLevel(l int)    { a.s.SetMinLevel(Level(l)) }
func (a adaptSink) RetrySeconds() int    { return a.s.RetrySeconds() }
func (a adaptSink) Close() error         { return a.s.Close() }
func (a adaptSink) Dump(w io.Writer)     { a.s.Dump(w) }
func (a adaptSink) Write(e delivery.Event) bool {
	return a.s.Write(Event{
		Level:     Level(e.Level),
		Subsystem: SubsystemID(e.Subsystem),
		Message:   e.Message,
		Function:  e.Function,
		Time:      e.Time,
		subsystem: e.SubsystemStr,
		timeStr:   e.TimeString,
	})
}

func init() {
	// Internal diagnostic logging starts eagerly so that delivery/retry
	// worker lifecycle events (see internal/delivery) have somewhere to
	// go even before the application configures anything.
	obslog.Default()
}
