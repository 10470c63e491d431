package exec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
	"github.com/go-sif/sluice/internal/plan"
	"github.com/go-sif/sluice/substrate/local"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type pair struct {
	key   string
	count int64
}

type grouped struct {
	key    string
	counts []int64
}

type stringCoder struct{}

func (stringCoder) Name() string { return "string" }
func (stringCoder) EncodeAny(v any) ([]byte, error) { return []byte(v.(string)), nil }
func (stringCoder) DecodeAny(data []byte) (any, error) { return string(data), nil }

type int64Coder struct{}

func (int64Coder) Name() string { return "int64" }
func (int64Coder) EncodeAny(v any) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(v.(int64))), nil
}
func (int64Coder) DecodeAny(data []byte) (any, error) {
	return int64(binary.BigEndian.Uint64(data)), nil
}

type namedCoder string

func (c namedCoder) Name() string { return string(c) }
func (c namedCoder) EncodeAny(v any) ([]byte, error) { return nil, errors.New("not encodable") }
func (c namedCoder) DecodeAny(data []byte) (any, error) { return nil, errors.New("not decodable") }

type split string

func (s split) String() string { return string(s) }

type sliceReader struct {
	parts [][]string
	reads atomic.Int64
}

func (r *sliceReader) Splits(ctx context.Context) ([]graph.Split, error) {
	res := make([]graph.Split, len(r.parts))
	for i := range r.parts {
		res[i] = split(fmt.Sprint(i))
	}
	return res, nil
}

func (r *sliceReader) Read(ctx context.Context, s graph.Split, emit func(any) error) error {
	r.reads.Inc()
	var idx int
	fmt.Sscan(s.String(), &idx)
	for _, v := range r.parts[idx] {
		if err := emit(v); err != nil {
			return err
		}
	}
	return nil
}

type funcFactory func(elem any, emit func(any) error) error

type funcProcessor struct {
	fn   funcFactory
	emit func(any) error
}

func (f funcFactory) NewInstance(ctx context.Context, emit func(any) error) (graph.Processor, error) {
	return &funcProcessor{fn: f, emit: emit}, nil
}
func (p *funcProcessor) Process(elem any) error { return p.fn(elem, p.emit) }
func (p *funcProcessor) Finish() error { return nil }

type memSink struct {
	lock      sync.Mutex
	committed map[string][]any
	abortErr  error
	aborts    atomic.Int64
}

type memWriter struct {
	s   *memSink
	key string
	buf []any
}

func (s *memSink) NewWriter(ctx context.Context, info graph.TaskInfo) (graph.Writer, error) {
	return &memWriter{s: s, key: fmt.Sprintf("%d/%d", info.Stage, info.Task)}, nil
}
func (w *memWriter) Write(ctx context.Context, elem any) error { w.buf = append(w.buf, elem); return nil }
func (w *memWriter) Close(ctx context.Context) error {
	w.s.lock.Lock()
	defer w.s.lock.Unlock()
	if w.s.committed == nil {
		w.s.committed = make(map[string][]any)
	}
	w.s.committed[w.key] = w.buf
	return nil
}
func (w *memWriter) Abort(ctx context.Context) error {
	w.s.aborts.Inc()
	return w.s.abortErr
}

func (s *memSink) records() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var res []string
	for _, elems := range s.committed {
		for _, e := range elems {
			res = append(res, fmt.Sprint(e))
		}
	}
	sort.Strings(res)
	return res
}

type testGraph struct {
	g      *graph.Graph
	writes []graph.Write
}

func (tg *testGraph) source(name string, r graph.Reader) graph.NodeID {
	return tg.g.Add(&graph.Node{Kind: graph.Source, Name: name, Type: stringCoder{}, Source: r})
}

func (tg *testGraph) pardo(name string, parent graph.NodeID, in, out graph.Coder, fn funcFactory) graph.NodeID {
	return tg.g.Add(&graph.Node{Kind: graph.ParDo, Name: name, Parents: []graph.NodeID{parent}, InType: in, Type: out, DoFn: fn})
}

// count adds pair -> GroupByKey -> sum, returning the sum node
func (tg *testGraph) count(parent graph.NodeID) graph.NodeID {
	pairs := tg.pardo("pair", parent, stringCoder{}, namedCoder("pair"), func(elem any, emit func(any) error) error {
		return emit(pair{key: elem.(string), count: 1})
	})
	gbk := tg.g.Add(&graph.Node{
		Kind: graph.GroupByKey, Name: "group", Parents: []graph.NodeID{pairs},
		InType: namedCoder("pair"), Type: namedCoder("grouped"),
		Group: &graph.GroupPayload{
			Key:   stringCoder{},
			Value: int64Coder{},
			Split: func(elem any) (any, any) { p := elem.(pair); return p.key, p.count },
			Join: func(key any, values []any) any {
				g := grouped{key: key.(string)}
				for _, v := range values {
					g.counts = append(g.counts, v.(int64))
				}
				return g
			},
		},
	})
	return tg.g.Add(&graph.Node{
		Kind: graph.Combine, Name: "sum", Parents: []graph.NodeID{gbk},
		InType: namedCoder("grouped"), Type: namedCoder("pair"),
		Combine: &graph.CombinePayload{
			Combine: func(a, b any) (any, error) { return a.(int64) + b.(int64), nil },
			Fold: func(elem any) (any, error) {
				g := elem.(grouped)
				var total int64
				for _, c := range g.counts {
					total += c
				}
				return pair{key: g.key, count: total}, nil
			},
		},
	})
}

func (tg *testGraph) write(node graph.NodeID, name string, typ graph.Coder, sink graph.Sink) {
	tg.writes = append(tg.writes, graph.Write{Node: node, Target: name, Type: typ, Sink: sink})
}

func run(t *testing.T, tg *testGraph, lift bool, attempts int) *Outcome {
	p, err := plan.New(tg.g, tg.writes, plan.Options{LiftCombiners: lift})
	require.Nil(t, err)
	logger := zaptest.NewLogger(t)
	sub := local.New(&local.Options{Parallelism: 3, MaxAttempts: attempts, InitialInterval: time.Millisecond, Logger: logger})
	defer sub.Close()
	return Execute(context.Background(), tg.g, p, Config{
		RunID: "test", Pipeline: t.Name(), Shards: 3, Substrate: sub, Logger: logger,
	})
}

func TestCountsWithAndWithoutLifting(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, lift := range []bool{false, true} {
		tg := &testGraph{g: graph.New()}
		src := tg.source("words", &sliceReader{parts: [][]string{{"cat", "dog", "cat"}, {"cat"}, {}, {"emu", "dog"}}})
		sink := &memSink{}
		tg.write(tg.count(src), "counts", namedCoder("pair"), sink)

		out := run(t, tg, lift, 1)
		require.Len(t, out.Stages, 2)
		for _, s := range out.Stages {
			require.Equal(t, StatusSucceeded, s.Status, s.Err)
		}
		require.Nil(t, out.Writes[0].Err)
		want := []string{"{cat 3}", "{dog 2}", "{emu 1}"}
		if diff := cmp.Diff(want, sink.records()); diff != "" {
			t.Errorf("lift=%v counts mismatch (-want +got):\n%s", lift, diff)
		}
		require.Equal(t, int64(3), out.Stages[1].Stats.Tasks)
	}
}

func TestSharedUpstreamRunsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	reader := &sliceReader{parts: [][]string{{"a", "b"}, {"c"}}}
	src := tg.source("letters", reader)
	var processed atomic.Int64
	upper := tg.pardo("upper", src, stringCoder{}, stringCoder{}, func(elem any, emit func(any) error) error {
		processed.Inc()
		return emit(strings.ToUpper(elem.(string)))
	})
	left, right := &memSink{}, &memSink{}
	tg.write(upper, "left", stringCoder{}, left)
	tg.write(upper, "right", stringCoder{}, right)

	out := run(t, tg, false, 1)
	require.Nil(t, out.Writes[0].Err)
	require.Nil(t, out.Writes[1].Err)
	require.Equal(t, []string{"A", "B", "C"}, left.records())
	require.Equal(t, []string{"A", "B", "C"}, right.records())
	require.Equal(t, int64(3), processed.Load())
	require.Equal(t, int64(2), reader.reads.Load())
}

func TestFailedStageOnlyFailsDependentWrites(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	sentinel := errors.New("bad record")
	bad := tg.source("bad", &sliceReader{parts: [][]string{{"ok", "poison"}}})
	failing := tg.pardo("explode", bad, stringCoder{}, stringCoder{}, func(elem any, emit func(any) error) error {
		if elem == "poison" {
			return sentinel
		}
		return emit(elem)
	})
	good := tg.source("good", &sliceReader{parts: [][]string{{"x"}, {"y"}}})
	failedSink, countSink, goodSink := &memSink{}, &memSink{}, &memSink{}
	tg.write(tg.count(failing), "counts", namedCoder("pair"), countSink)
	tg.write(failing, "direct", stringCoder{}, failedSink)
	tg.write(good, "good", stringCoder{}, goodSink)

	out := run(t, tg, true, 2)
	require.ErrorIs(t, out.Writes[0].Err, sentinel)
	var upstream *serrors.UpstreamFailedError
	require.True(t, errors.As(out.Writes[0].Err, &upstream))
	require.ErrorIs(t, out.Writes[1].Err, sentinel)
	var taskErr *serrors.TaskError
	require.True(t, errors.As(out.Writes[1].Err, &taskErr))
	require.Equal(t, 2, taskErr.Attempts)
	require.Nil(t, out.Writes[2].Err)

	require.Empty(t, failedSink.records())
	require.Empty(t, countSink.records())
	require.Equal(t, []string{"x", "y"}, goodSink.records())
	require.Equal(t, int64(2), failedSink.aborts.Load())

	statuses := map[Status]int{}
	for _, s := range out.Stages {
		statuses[s.Status]++
	}
	require.Equal(t, map[Status]int{StatusFailed: 1, StatusSkipped: 1, StatusSucceeded: 1}, statuses)
}

func TestRetriedAttemptsCommitOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	src := tg.source("words", &sliceReader{parts: [][]string{{"cat", "dog"}, {"cat", "boom", "cat"}}})
	var failures atomic.Int64
	flaky := tg.pardo("flaky", src, stringCoder{}, stringCoder{}, func(elem any, emit func(any) error) error {
		if err := emit(elem); err != nil {
			return err
		}
		if elem == "boom" && failures.Inc() <= 2 {
			return errors.New("transient")
		}
		return nil
	})
	counts, direct := &memSink{}, &memSink{}
	tg.write(tg.count(flaky), "counts", namedCoder("pair"), counts)
	tg.write(flaky, "direct", stringCoder{}, direct)

	out := run(t, tg, true, 3)
	require.Nil(t, out.Writes[0].Err)
	require.Nil(t, out.Writes[1].Err)
	require.Equal(t, []string{"{boom 1}", "{cat 3}", "{dog 1}"}, counts.records())
	require.Equal(t, []string{"boom", "cat", "cat", "cat", "dog"}, direct.records())
	require.Equal(t, int64(4), out.Stages[0].Stats.Attempts)
	require.Equal(t, int64(2), out.Stages[0].Stats.Tasks)
	require.Equal(t, int64(5), out.Stages[0].Stats.RecordsRead)
}

func TestAbortFailuresBecomeWarnings(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	src := tg.source("words", &sliceReader{parts: [][]string{{"only"}}})
	failing := tg.pardo("fail", src, stringCoder{}, stringCoder{}, func(elem any, emit func(any) error) error {
		return errors.New("always")
	})
	sink := &memSink{abortErr: errors.New("cannot clean up")}
	tg.write(failing, "out", stringCoder{}, sink)

	out := run(t, tg, false, 1)
	require.Error(t, out.Writes[0].Err)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0].Error(), "cannot clean up")
}

func TestUnionMaterializesEveryParent(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	a := tg.source("a", &sliceReader{parts: [][]string{{"a1"}, {"a2"}}})
	b := tg.source("b", &sliceReader{parts: [][]string{{"b1"}}})
	u := tg.g.Add(&graph.Node{Kind: graph.Union, Name: "union", Parents: []graph.NodeID{a, b, b}, Type: stringCoder{}})
	sink := &memSink{}
	tg.write(u, "out", stringCoder{}, sink)

	out := run(t, tg, false, 1)
	require.Nil(t, out.Writes[0].Err)
	require.Equal(t, []string{"a1", "a2", "b1", "b1"}, sink.records())
	require.Equal(t, []int{0, 1}, []int{out.Stages[0].ID, out.Stages[1].ID})
}

func TestIgnoreRecordErrorsSkipsFailingRecords(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	src := tg.source("words", &sliceReader{parts: [][]string{{"ok", "bad", "fine"}}})
	picky := tg.pardo("picky", src, stringCoder{}, stringCoder{}, func(elem any, emit func(any) error) error {
		if elem == "bad" {
			return &serrors.RecordError{Fn: "picky", Err: errors.New("rejected")}
		}
		return emit(elem)
	})
	sink := &memSink{}
	tg.write(picky, "out", stringCoder{}, sink)

	p, err := plan.New(tg.g, tg.writes, plan.Options{})
	require.Nil(t, err)
	sub := local.New(&local.Options{Parallelism: 1, MaxAttempts: 1})
	defer sub.Close()
	out := Execute(context.Background(), tg.g, p, Config{Shards: 1, IgnoreRecordErrors: true, Substrate: sub, Logger: zaptest.NewLogger(t)})
	require.Nil(t, out.Writes[0].Err)
	require.Equal(t, []string{"fine", "ok"}, sink.records())
	require.Equal(t, int64(1), out.Stages[0].Stats.RecordsSkipped)
}

func TestCancelledRunMarksStagesCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)
	tg := &testGraph{g: graph.New()}
	src := tg.source("words", &sliceReader{parts: [][]string{{"x"}}})
	sink := &memSink{}
	tg.write(tg.count(src), "out", namedCoder("pair"), sink)

	p, err := plan.New(tg.g, tg.writes, plan.Options{})
	require.Nil(t, err)
	sub := local.New(&local.Options{Parallelism: 1, MaxAttempts: 1})
	defer sub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Execute(ctx, tg.g, p, Config{Shards: 1, Substrate: sub})
	for _, s := range out.Stages {
		require.Equal(t, StatusCanceled, s.Status)
	}
	require.ErrorIs(t, out.Writes[0].Err, context.Canceled)
	require.Empty(t, sink.records())
}
